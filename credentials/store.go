package credentials

// Fixed storage keys for the persisted pair. Both are written and cleared together.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Pair is the current access/refresh credential pair. Both values are opaque bearer strings.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// IsZero reports whether no credentials are held
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Store persists the single current credential pair.
// Writes replace the whole pair atomically; there is no partial update.
type Store interface {
	// Get returns the current pair, or a zero Pair when nothing is stored
	Get() (Pair, error)

	// Replace atomically swaps the stored pair for the new one
	Replace(pair Pair) error

	// ReplaceIf swaps the stored pair only if the stored access token still equals
	// expectedAccessToken. It reports whether the swap happened.
	ReplaceIf(expectedAccessToken string, pair Pair) (bool, error)

	// Clear removes both tokens
	Clear() error
}

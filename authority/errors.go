package authority

import apperrors "github.com/jrsteele09/go-collab-client/internal/errors"

var (
	// ErrSessionTerminated is returned when a refresh failed and no concurrent
	// re-login replaced the credentials; the store has been cleared.
	ErrSessionTerminated = apperrors.ErrSessionTerminated

	// ErrNoCredentials is returned when there is nothing to attach or refresh
	ErrNoCredentials = apperrors.ErrNoCredentials
)

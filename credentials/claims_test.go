package credentials_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-collab-client/credentials"
	"github.com/jrsteele09/go-collab-client/credentials/tokentest"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("1234"))
	require.NoError(t, err)
	return token
}

func TestSubject(t *testing.T) {
	t.Run("returns sub claim", func(t *testing.T) {
		pair, err := tokentest.NewCreator().Pair("user-1")
		require.NoError(t, err)
		require.NotEmpty(t, pair.RefreshToken)

		sub, err := credentials.Subject(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "user-1", sub)
	})

	t.Run("missing sub", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{"iss": "issuer"})
		_, err := credentials.Subject(token)
		require.Error(t, err)
		require.Contains(t, err.Error(), "no subject")
	})

	t.Run("opaque token", func(t *testing.T) {
		_, err := credentials.Subject("not-a-jwt")
		require.Error(t, err)
	})
}

func TestExpiresAt(t *testing.T) {
	issued := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tokentest.NowTimeFunc = func() time.Time { return issued }
	defer func() { tokentest.NowTimeFunc = time.Now }()

	creator := tokentest.NewCreator()
	creator.TTL = time.Hour
	token, err := creator.AccessToken("user-1")
	require.NoError(t, err)

	got, err := credentials.ExpiresAt(token)
	require.NoError(t, err)
	require.True(t, issued.Add(time.Hour).Equal(got))

	noExp := signedToken(t, jwt.MapClaims{"sub": "user-1"})
	got, err = credentials.ExpiresAt(noExp)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

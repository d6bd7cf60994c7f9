// Package tokentest mints signed token pairs for tests, shaped like the ones the auth API
// issues. The signing key is fixed; the client never verifies signatures.
package tokentest

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-collab-client/credentials"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var signingKey = []byte("collab-test-signing-key")

// Creator mints access tokens for a fixed issuer and lifetime
type Creator struct {
	Issuer string
	TTL    time.Duration
}

func NewCreator() *Creator {
	return &Creator{
		Issuer: "https://auth.collab.test",
		TTL:    15 * time.Minute,
	}
}

// AccessToken creates a signed access token whose "sub" claim is subject
func (c *Creator) AccessToken(subject string) (string, error) {
	now := NowTimeFunc()
	claims := jwtlib.MapClaims{
		"iss":        c.Issuer,
		"sub":        subject,
		"iat":        now.Unix(),
		"exp":        now.Add(c.TTL).Unix(),
		"jti":        uuid.NewString(),
		"token_type": "user",
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, nil
}

// Pair creates an access token for subject plus an opaque refresh token
func (c *Creator) Pair(subject string) (credentials.Pair, error) {
	access, err := c.AccessToken(subject)
	if err != nil {
		return credentials.Pair{}, err
	}
	return credentials.Pair{AccessToken: access, RefreshToken: uuid.NewString()}, nil
}

package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Subject extracts the "sub" claim from an access token without verifying its signature.
// The client never verifies tokens; it only needs to know which participant it is.
func Subject(accessToken string) (string, error) {
	claims, err := parseUnverified(accessToken)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("access token has no subject claim")
	}
	return claims.Subject, nil
}

// ExpiresAt returns the "exp" claim of an access token, or the zero time when absent
func ExpiresAt(accessToken string) (time.Time, error) {
	claims, err := parseUnverified(accessToken)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

func parseUnverified(accessToken string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

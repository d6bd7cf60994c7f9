package api

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-collab-client/credentials"
	"github.com/pkg/errors"
)

// TokenResponse is the body returned by the login and refresh endpoints
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthClient talks to the unauthenticated auth endpoints. It must use a plain
// http.Client: routing refresh through the Authority would recurse on a 401.
type AuthClient struct {
	base
}

func NewAuthClient(baseURL string, httpClient *http.Client) *AuthClient {
	return &AuthClient{base: newBase(baseURL, httpClient)}
}

// Refresh implements authority.Refresher against POST /auth/refresh
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return credentials.Pair{}, errors.Wrap(err, "AuthClient.Refresh")
	}
	if resp.AccessToken == "" {
		return credentials.Pair{}, errors.New("AuthClient.Refresh: response has no access token")
	}
	return credentials.Pair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// Login exchanges user credentials for a token pair against POST /auth/login
func (c *AuthClient) Login(ctx context.Context, email, password string) (credentials.Pair, error) {
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return credentials.Pair{}, errors.Wrap(err, "AuthClient.Login")
	}
	return credentials.Pair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

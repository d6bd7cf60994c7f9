package authority

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RoundTripper returns an http.RoundTripper that attaches the current access token and,
// on a 401, retries the request exactly once with the token HandleUnauthorized yields.
// A 403 is returned untouched; only authentication failures trigger a refresh.
func (a *Authority) RoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{authority: a, base: base}
}

type roundTripper struct {
	authority *Authority
	base      http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	first := req.Clone(req.Context())
	tokenBeforeRequest := rt.authority.Attach(first)

	resp, err := rt.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// A consumed body that cannot be rebuilt cannot be replayed
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		log.Warn().Str("url", req.URL.String()).Msg("Cannot retry unauthorized request without GetBody")
		return resp, nil
	}

	token, err := rt.authority.HandleUnauthorized(req.Context(), tokenBeforeRequest)
	if err != nil {
		drainAndClose(resp.Body)
		return nil, err
	}
	drainAndClose(resp.Body)

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+token)
	return rt.base.RoundTrip(retry)
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const maxErrorBody = 4 << 10

// errorBody is the error envelope returned by the API
type errorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

// base holds the shared request/decode plumbing for the API clients
type base struct {
	baseURL    string
	httpClient *http.Client
}

func newBase(baseURL string, httpClient *http.Client) base {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return base{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// do sends body (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
// Non-2xx responses become *StatusError.
func (b base) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if len(raw) > 0 && json.Unmarshal(raw, &eb) == nil {
		if resp.StatusCode == http.StatusConflict && eb.SessionID != "" {
			return &ConflictError{SessionID: eb.SessionID, Message: eb.Message}
		}
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}

func escape(segment string) string {
	return url.PathEscape(segment)
}

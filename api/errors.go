package api

import (
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/go-collab-client/internal/errors"
)

var (
	ErrUnauthenticated = apperrors.ErrUnauthenticated
	ErrForbidden       = apperrors.ErrForbidden
	ErrConflict        = apperrors.ErrConflict
	ErrNotFound        = apperrors.ErrNotFound
)

// StatusError is a non-2xx response. It unwraps to the sentinel for its status class.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

// ConflictError is returned by CreateSession when the resource already has an active
// session. SessionID identifies the session to join instead.
type ConflictError struct {
	SessionID string
	Message   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("api: active session %s already exists: %s", e.SessionID, e.Message)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

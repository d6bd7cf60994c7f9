package errors

import (
	"errors"
	"fmt"
)

// Common error types for the collaboration client
var (
	// Credential errors
	ErrNoCredentials     = errors.New("no credentials stored")
	ErrSessionTerminated = errors.New("authentication session terminated")

	// HTTP status errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")

	// Realtime errors
	ErrNotConnected         = errors.New("hub not connected")
	ErrReconnectExhausted   = errors.New("hub reconnection attempts exhausted")
	ErrInvocationFailed     = errors.New("hub invocation failed")
	ErrConnectionClosed     = errors.New("hub connection closed")
	ErrCollabUnavailable    = errors.New("collaboration unavailable")
	ErrSessionActive        = errors.New("another collaboration session is active")
	ErrNoActiveSession      = errors.New("no active collaboration session")
	ErrInvalidResourceInput = errors.New("resource id and type are required")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, discarding nils
func Join(errs ...error) error {
	return errors.Join(errs...)
}

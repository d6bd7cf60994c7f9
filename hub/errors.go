package hub

import apperrors "github.com/jrsteele09/go-collab-client/internal/errors"

var (
	// ErrNotConnected is returned by Invoke and Send unless the transport is Connected
	ErrNotConnected = apperrors.ErrNotConnected

	// ErrReconnectExhausted is reported to Closed hooks once the backoff ceiling is reached
	ErrReconnectExhausted = apperrors.ErrReconnectExhausted

	// ErrInvocationFailed wraps an error string returned by the hub for an invocation
	ErrInvocationFailed = apperrors.ErrInvocationFailed

	// ErrConnectionClosed fails invocations that were pending when the connection dropped
	ErrConnectionClosed = apperrors.ErrConnectionClosed
)

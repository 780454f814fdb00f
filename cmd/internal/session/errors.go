package session

import "errors"

var (
	// ErrSessionClosed is returned for any missing, malformed, expired,
	// rotated or logged-out session. Callers cannot tell the causes apart.
	ErrSessionClosed = errors.New("session closed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

package identity

import (
	"errors"
	"strconv"
)

// ErrInvalidInput marks malformed credentials files and user names.
var ErrInvalidInput = errors.New("invalid_input")

// CredentialError describes a rejected credentials line or user name. It
// never carries password or hash material.
type CredentialError struct {
	Line   int // 1-based; 0 when not tied to a file line
	Reason string
}

func (e *CredentialError) Error() string {
	if e.Line == 0 {
		return "identity: " + e.Reason
	}
	return "identity: line " + strconv.Itoa(e.Line) + ": " + e.Reason
}

func (e *CredentialError) Unwrap() error { return ErrInvalidInput }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

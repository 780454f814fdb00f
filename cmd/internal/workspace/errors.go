package workspace

import "errors"

// Reasons a request is denied. DeniedError matches them with errors.Is.
var (
	ErrNotReady         = errors.New("not ready")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrExists           = errors.New("repository exists")
	ErrTooLarge         = errors.New("content too large")
	ErrRemote           = errors.New("remote operation failed")

	// ErrInvalidManifest is returned for a manifest that is not a JSON object.
	ErrInvalidManifest = errors.New("manifest must be a JSON object")

	// ErrInvalidArgument is returned for malformed repository names, pull
	// flags and file paths.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DeniedError is an access-denied outcome. Reason is one of the sentinels
// above and is safe to show to clients; Detail and Err are for logs.
type DeniedError struct {
	Reason error
	Detail string
	Err    error
}

func (e *DeniedError) Error() string {
	msg := e.Reason.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeniedError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func deny(reason error, detail string, err error) error {
	return &DeniedError{Reason: reason, Detail: detail, Err: err}
}

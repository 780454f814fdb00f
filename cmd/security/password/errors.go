package password

import "errors"

// Policy and hash errors. Callers compare with errors.Is.
var (
	ErrPasswordTooShort     = errors.New("password too short")
	ErrPasswordTooLong      = errors.New("password too long")
	ErrWeakPassword         = errors.New("weak password")
	ErrPasswordContainsUser = errors.New("password contains the user name")
	ErrInvalidHash          = errors.New("invalid password hash")
)

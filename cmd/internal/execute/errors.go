package execute

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTimeout is matched by a command killed after its timeout.
var ErrTimeout = errors.New("command timed out")

// Error describes a failed command.
//
// Status is the exit status, or -1 when the command timed out or could not be
// started at all. In the latter case the start error is wrapped.
type Error struct {
	Args   []string
	Status int
	Stderr string

	err error
}

func (e *Error) Error() string {
	name := "command"
	if len(e.Args) > 0 {
		name = e.Args[0]
	}
	switch {
	case e.err != nil:
		return fmt.Sprintf("%s: %v", name, e.err)
	case e.Status == -1:
		return name + ": " + ErrTimeout.Error()
	}
	msg := fmt.Sprintf("%s exited with status %d", name, e.Status)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e.err != nil {
		return e.err
	}
	if e.Status == -1 {
		return ErrTimeout
	}
	return nil
}

// Package execute runs external programs with captured output and a hard
// timeout.
//
// A started command is never aborted by request cancellation: the runner
// detaches from the caller's context and only its own timeout applies.
package execute

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"webui/cmd/internal/metrics"
)

// DefaultTimeout bounds a command when neither the Command nor the Exec
// carries a timeout.
const DefaultTimeout = 10 * time.Second

// Command is one program invocation.
type Command struct {
	// Args is the program followed by its arguments. Never passed to a shell.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// Timeout overrides the runner default when > 0.
	Timeout time.Duration
}

// Runner executes commands and returns their stdout.
// Failures are reported as *Error.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// Exec is the os/exec backed Runner.
type Exec struct {
	Log     *slog.Logger
	Timeout time.Duration
}

// NewExec returns a runner logging to log with the given default timeout.
func NewExec(log *slog.Logger, timeout time.Duration) *Exec {
	return &Exec{Log: log, Timeout: timeout}
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, c Command) ([]byte, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("execute: empty command")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = e.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	program := filepath.Base(c.Args[0])

	switch {
	case err == nil:
		metrics.CommandDuration.WithLabelValues(program, "ok").Observe(elapsed.Seconds())
		e.debug("command.ok", c, elapsed)
		return stdout.Bytes(), nil

	case ctx.Err() == context.DeadlineExceeded:
		metrics.CommandDuration.WithLabelValues(program, "timeout").Observe(elapsed.Seconds())
		e.warn("command.timeout", c, elapsed, -1)
		return nil, &Error{Args: c.Args, Status: -1}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// Could not start (missing binary, bad dir).
		metrics.CommandDuration.WithLabelValues(program, "fail").Observe(elapsed.Seconds())
		e.warn("command.start.fail", c, elapsed, -1, "err", err)
		return nil, &Error{Args: c.Args, Status: -1, Stderr: err.Error(), err: err}
	}

	metrics.CommandDuration.WithLabelValues(program, "fail").Observe(elapsed.Seconds())
	e.debug("command.fail", c, elapsed, "status", exitErr.ExitCode())
	return stdout.Bytes(), &Error{Args: c.Args, Status: exitErr.ExitCode(), Stderr: stderr.String()}
}

func (e *Exec) debug(msg string, c Command, elapsed time.Duration, attrs ...any) {
	if e.Log == nil {
		return
	}
	e.Log.Debug(msg, append([]any{"program", c.Args[0], "dir", c.Dir, "elapsed_ms", elapsed.Milliseconds()}, attrs...)...)
}

func (e *Exec) warn(msg string, c Command, elapsed time.Duration, status int, attrs ...any) {
	if e.Log == nil {
		return
	}
	e.Log.Warn(msg, append([]any{"program", c.Args[0], "dir", c.Dir, "elapsed_ms", elapsed.Milliseconds(), "status", status}, attrs...)...)
}

// ExitStatus returns the exit status carried by err, or false when err is
// not a command failure.
func ExitStatus(err error) (int, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Status, true
}

// Package runner executes external tools with a timeout and captures their
// combined output and exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout is used when a call passes a zero timeout.
	DefaultTimeout = 15 * time.Minute

	// MaxTimeout caps any requested timeout.
	MaxTimeout = 60 * time.Minute

	// exitTimedOut mirrors the exit status of coreutils timeout(1).
	exitTimedOut = 124
)

// ErrNotFound reports that the command's executable is not on PATH.
var ErrNotFound = errors.New("executable not found")

// Result describes one finished process.
type Result struct {
	Command  []string
	Output   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Success reports whether the process exited zero within its timeout.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// String returns the command line as typed.
func (r Result) String() string {
	return strings.Join(r.Command, " ")
}

// Runner runs a command in dir and blocks until it exits.
//
// A non-nil error means the process could not be started at all; a process
// that ran and exited non-zero is reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (Result, error)
}

// Exec runs commands with os/exec.
type Exec struct {
	// Env is appended to the inherited environment.
	Env map[string]string
}

// NewExec returns an Exec runner that inherits the process environment.
func NewExec() *Exec { return &Exec{} }

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (Result, error) {
	res := Result{Command: args}
	if len(args) == 0 {
		return res, fmt.Errorf("empty command")
	}

	switch {
	case timeout <= 0:
		timeout = DefaultTimeout
	case timeout > MaxTimeout:
		timeout = MaxTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, args[0], args[1:]...)
	cmd.Dir = dir
	// Grandchildren holding the output pipe must not outlive the timeout.
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = os.Environ()
	for k, v := range e.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res.Duration = time.Since(start)
	res.Output = string(out)

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.ExitCode = exitTimedOut
		res.TimedOut = true
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		if errors.Is(err, exec.ErrNotFound) {
			return res, fmt.Errorf("%s: %w", args[0], ErrNotFound)
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("starting %s: %w", args[0], err)
	}
	return res, nil
}

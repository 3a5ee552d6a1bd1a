// Package executil runs local programs with bounded lifetimes and captures
// their output. Every subprocess outcome, including spawn failure, is
// returned as data so callers can branch on exit codes instead of errors.
package executil

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Spec describes one subprocess invocation.
type Spec struct {
	Program string
	Args    []string
	Timeout time.Duration
	Dir     string
}

// Result is the outcome of a subprocess invocation. ExitCode is -1 when the
// process could not be started or was killed before exiting on its own.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the process exited with code 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// DefaultTimeout bounds invocations whose Spec carries no timeout.
const DefaultTimeout = 60 * time.Second

// Run executes the program described by spec and waits for it to finish.
// Stdin is closed, both output streams are captured, and the timeout is
// enforced by killing the process. Run never returns an error: spawn
// failures yield ExitCode -1 with the failure message in Stderr.
func Run(ctx context.Context, spec Spec) *Result {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0

	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if ctx.Err() == context.DeadlineExceeded {
			log.Debug().
				Str("program", spec.Program).
				Dur("timeout", timeout).
				Msg("subprocess killed after timeout")
		}

	default:
		// Spawn failure: program not found, bad working dir, etc.
		result.ExitCode = -1
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}

	return result
}

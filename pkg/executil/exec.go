// Package executil provides command execution utilities.
package executil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Executor runs external commands.
type Executor interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
	// Start launches a long-running filter process. stdin is copied into the
	// process and its stdout is exposed by the returned Process. stderr may be nil.
	Start(ctx context.Context, stdin io.Reader, stderr io.Writer, cmd string, args ...string) (Process, error)
}

// Process is a running command started by Executor.Start.
type Process interface {
	// Stdout returns the process output. It must be drained before Wait.
	Stdout() io.Reader
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// Kill terminates the process. Safe to call after exit.
	Kill() error
}

// ExitCode extracts the exit code from an error returned by Process.Wait.
// ok is false when err does not carry an exit status. A process terminated by
// a signal reports -1.
func ExitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}

	var coded *ExitError
	if errors.As(err, &coded) {
		return coded.Code, true
	}

	return 0, false
}

// ExitError is returned by test processes to simulate a non-zero exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// RealExecutor calls actual commands.
type RealExecutor struct{}

// Run executes a command and returns its combined output.
func (e *RealExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", cmd, err)
	}
	return out, nil
}

// Start launches cmd with stdin attached and its stdout piped back to the caller.
func (e *RealExecutor) Start(ctx context.Context, stdin io.Reader, stderr io.Writer, cmd string, args ...string) (Process, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Stdin = stdin
	c.Stderr = stderr

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("exec %s: stdout pipe: %w", cmd, err)
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("exec %s: %w", cmd, err)
	}

	return &realProcess{cmd: c, stdout: stdout}, nil
}

type realProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (p *realProcess) Stdout() io.Reader { return p.stdout }

func (p *realProcess) Wait() error { return p.cmd.Wait() }

func (p *realProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

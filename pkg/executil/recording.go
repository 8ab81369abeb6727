package executil

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Cmd  string
	Args []string
}

// RecordingExecutor captures commands for testing.
// Configure Outputs and Errors maps to control return values.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	// Outputs maps command names to their output. For started processes the
	// output is what the process writes to stdout.
	Outputs map[string][]byte

	// Errors maps command names to their error. For started processes the
	// error is returned from Wait after stdout is drained.
	Errors map[string]error

	// StartErrors maps command names to an error returned by Start itself.
	StartErrors map[string]error

	// Stdin collects everything started processes read from their stdin.
	Stdin bytes.Buffer
}

// Run records the command and returns configured output/error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record(cmd, args...)
}

func (e *RecordingExecutor) record(cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{
		Cmd:  cmd,
		Args: args,
	})

	var out []byte
	var err error

	if e.Outputs != nil {
		out = e.Outputs[cmd]
	}
	if e.Errors != nil {
		err = e.Errors[cmd]
	}

	return out, err
}

// Reset clears recorded commands.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
	e.Stdin.Reset()
}

// Start records the command and returns a process that consumes stdin fully,
// then emits the configured output and exits with the configured error.
func (e *RecordingExecutor) Start(ctx context.Context, stdin io.Reader, stderr io.Writer, cmd string, args ...string) (Process, error) {
	e.mu.Lock()
	startErr := e.StartErrors[cmd]
	e.mu.Unlock()

	out, waitErr := e.record(cmd, args...)
	if startErr != nil {
		return nil, startErr
	}

	pr, pw := io.Pipe()
	p := &recordedProcess{
		stdout: pr,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(p.done)

		if stdin != nil {
			data, err := io.ReadAll(stdin)
			e.mu.Lock()
			e.Stdin.Write(data)
			e.mu.Unlock()
			if err != nil {
				p.exit = err
				_ = pw.CloseWithError(err)
				return
			}
		}

		if _, err := pw.Write(out); err != nil {
			p.exit = &ExitError{Code: -1}
			return
		}
		p.exit = waitErr
		_ = pw.Close()
	}()

	return p, nil
}

type recordedProcess struct {
	stdout *io.PipeReader
	done   chan struct{}
	exit   error
}

func (p *recordedProcess) Stdout() io.Reader { return p.stdout }

func (p *recordedProcess) Wait() error {
	<-p.done
	return p.exit
}

func (p *recordedProcess) Kill() error {
	_ = p.stdout.CloseWithError(io.ErrClosedPipe)
	return nil
}

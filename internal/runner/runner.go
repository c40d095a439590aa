package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// maxDiagnosticBytes bounds how much streamed output is kept for error reports
const maxDiagnosticBytes = 16 * 1024

// CommandRunner executes external tools
type CommandRunner interface {
	// Run executes a command, streaming its output to the terminal
	Run(ctx context.Context, dir, name string, args ...string) error

	// RunOutput executes a command and returns its stdout
	RunOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// RunInput executes a command with stdin attached and returns its stdout
	RunInput(ctx context.Context, stdin io.Reader, dir, name string, args ...string) ([]byte, error)
}

// Error is returned when a command fails to start or exits non-zero
type Error struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ", output: " + out
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExecRunner implements CommandRunner using os/exec
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner creates a runner that streams tool output to the process
// stderr, leaving stdout for command results
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdout: os.Stderr,
		Stderr: os.Stderr,
	}
}

// Run executes the command with output streamed; stderr is also kept for diagnostics
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	tail := &tailBuffer{limit: maxDiagnosticBytes}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = r.stdout()
	cmd.Stderr = io.MultiWriter(r.stderr(), tail)

	if err := cmd.Run(); err != nil {
		return newError(name, args, tail.String(), err)
	}
	return nil
}

// RunOutput executes the command and returns its stdout. Stderr is kept
// for diagnostics only.
func (r *ExecRunner) RunOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return r.capture(ctx, nil, dir, name, args)
}

// RunInput executes the command with stdin attached and returns its stdout
func (r *ExecRunner) RunInput(ctx context.Context, stdin io.Reader, dir, name string, args ...string) ([]byte, error) {
	return r.capture(ctx, stdin, dir, name, args)
}

func (r *ExecRunner) capture(ctx context.Context, stdin io.Reader, dir, name string, args []string) ([]byte, error) {
	var stdout bytes.Buffer
	tail := &tailBuffer{limit: maxDiagnosticBytes}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		diagnostics := tail.String()
		if strings.TrimSpace(diagnostics) == "" {
			diagnostics = stdout.String()
		}
		return stdout.Bytes(), newError(name, args, diagnostics, err)
	}
	return stdout.Bytes(), nil
}

func (r *ExecRunner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return io.Discard
}

func (r *ExecRunner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return io.Discard
}

func newError(name string, args []string, output string, err error) *Error {
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &Error{
		Command:  CommandLine(name, args...),
		ExitCode: exitCode,
		Output:   output,
		Err:      err,
	}
}

// CommandLine renders a command for logs and error messages
func CommandLine(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

// OutputOf returns the diagnostics captured in a runner error, if any
func OutputOf(err error) string {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Output
	}
	return ""
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}

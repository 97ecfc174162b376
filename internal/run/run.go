// Package run executes external tools (git, cmake, make, ninja, msbuild).
//
// Every task goes through a Runner so a failing tool always surfaces as a
// *ToolError carrying the command that failed, and so tests can replace
// the real processes with a fake.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command describes one external tool invocation.
type Command struct {
	Name string   // executable name or absolute path
	Args []string // arguments, not including Name
	Dir  string   // working directory, empty means the current one
	Env  []string // child environment, nil means inherit
}

// String renders the command line the way a shell would accept it.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner runs external commands.
type Runner interface {
	// Run executes cmd, streaming its output. A non-zero exit is
	// reported as a *ToolError.
	Run(ctx context.Context, cmd Command) error

	// CombinedOutput executes cmd and returns stdout and stderr
	// interleaved. The output is returned even when the tool fails.
	CombinedOutput(ctx context.Context, cmd Command) (string, error)
}

// ToolError reports an external tool that exited with a non-zero status.
type ToolError struct {
	Command  Command
	ExitCode int
	Err      error
}

func (e *ToolError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s failed with exit status %d: %s", e.Command.Name, e.ExitCode, e.Command)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Command.Name, e.Command, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Exec runs commands as child processes of the current one.
type Exec struct {
	Stdout io.Writer
	Stderr io.Writer
}

var _ Runner = (*Exec)(nil)

// NewExec returns an Exec that forwards tool output to the process
// stdout and stderr.
func NewExec() *Exec {
	return &Exec{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (r *Exec) Run(ctx context.Context, cmd Command) error {
	c := r.command(ctx, cmd)
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr
	return wrap(cmd, c.Run())
}

func (r *Exec) CombinedOutput(ctx context.Context, cmd Command) (string, error) {
	c := r.command(ctx, cmd)
	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf
	err := c.Run()
	return buf.String(), wrap(cmd, err)
}

func (r *Exec) command(ctx context.Context, cmd Command) *exec.Cmd {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	return c
}

func wrap(cmd Command, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Command: cmd, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &ToolError{Command: cmd, ExitCode: -1, Err: err}
}

// IsStartFailure reports whether err means the tool could not be started
// at all (missing executable, bad working directory), as opposed to the
// tool running and failing.
func IsStartFailure(err error) bool {
	var te *ToolError
	if !errors.As(err, &te) {
		return false
	}
	var exitErr *exec.ExitError
	return !errors.As(te.Err, &exitErr)
}

// Quote renders args for log messages.
func Quote(args []string) string {
	return strings.TrimSpace(shellquote.Join(args...))
}

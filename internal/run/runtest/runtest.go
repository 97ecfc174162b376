// Package runtest provides a fake run.Runner that records invocations.
package runtest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goplus/extdep/internal/run"
)

// Handler decides the outcome of one recorded command. It returns the
// combined output and the exit code of the fake tool.
type Handler func(cmd run.Command) (output string, exitCode int)

// Recorder is a fake run.Runner. With no handler every command succeeds
// with empty output.
type Recorder struct {
	mu       sync.Mutex
	Handler  Handler
	Commands []run.Command
}

var _ run.Runner = (*Recorder)(nil)

func New(h Handler) *Recorder {
	return &Recorder{Handler: h}
}

func (r *Recorder) Run(ctx context.Context, cmd run.Command) error {
	_, err := r.CombinedOutput(ctx, cmd)
	return err
}

func (r *Recorder) CombinedOutput(_ context.Context, cmd run.Command) (string, error) {
	r.mu.Lock()
	r.Commands = append(r.Commands, cmd)
	h := r.Handler
	r.mu.Unlock()

	if h == nil {
		return "", nil
	}
	out, code := h(cmd)
	if code != 0 {
		return out, &run.ToolError{Command: cmd, ExitCode: code}
	}
	return out, nil
}

// Count returns how many recorded commands ran the given tool, matched
// on the base name of the executable without extension.
func (r *Recorder) Count(tool string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Commands {
		if Tool(c) == tool {
			n++
		}
	}
	return n
}

// Lines returns the recorded commands rendered as command lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.Commands))
	for i, c := range r.Commands {
		lines[i] = strings.Join(append([]string{Tool(c)}, c.Args...), " ")
	}
	return lines
}

// Tool returns the tool name of cmd: "/opt/ninja/ninja.exe" -> "ninja".
func Tool(cmd run.Command) string {
	base := filepath.Base(cmd.Name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FailOn returns a handler that fails every command of the given tool
// with exit code 2.
func FailOn(tool string) Handler {
	return func(cmd run.Command) (string, int) {
		if Tool(cmd) == tool {
			return tool + ": error", 2
		}
		return "", 0
	}
}

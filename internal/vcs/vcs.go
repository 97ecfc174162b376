// Package vcs fetches and patches dependency sources with git.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/spf13/afero"

	"github.com/goplus/extdep/internal/fsutil"
	"github.com/goplus/extdep/internal/logger"
	"github.com/goplus/extdep/internal/run"
)

// VCS defines the version control operations used to acquire sources.
type VCS interface {
	// Clone clones source into target unless target already exists.
	// It reports whether a clone took place.
	Clone(ctx context.Context, source, branch, target string) (bool, error)

	// CurrentHash returns what "git rev-parse HEAD" prints in dir.
	CurrentHash(ctx context.Context, dir string) (string, error)

	// Apply applies patch to the working tree at target.
	Apply(ctx context.Context, patch, target string) error
}

// Git implements VCS by running git.
type Git struct {
	git     string
	runner  run.Runner
	fs      afero.Fs
	log     logger.Logger
	verbose bool
}

var _ VCS = (*Git)(nil)

// GitOption configures Git.
type GitOption func(*Git)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) GitOption {
	return func(g *Git) {
		g.git = path
	}
}

func WithRunner(r run.Runner) GitOption {
	return func(g *Git) { g.runner = r }
}

func WithFs(fs afero.Fs) GitOption {
	return func(g *Git) { g.fs = fs }
}

func WithLogger(log logger.Logger) GitOption {
	return func(g *Git) { g.log = log }
}

// WithVerbose makes git apply report what it does.
func WithVerbose(v bool) GitOption {
	return func(g *Git) { g.verbose = v }
}

// NewGit creates a new Git instance.
func NewGit(opts ...GitOption) *Git {
	g := &Git{git: "git"}
	for _, opt := range opts {
		opt(g)
	}
	if g.runner == nil {
		g.runner = run.NewExec()
	}
	if g.fs == nil {
		g.fs = afero.NewOsFs()
	}
	if g.log == nil {
		g.log = logger.Discard()
	}
	return g
}

// Clone runs "git clone <source> <target> --single-branch [-b <branch>]".
// Nothing is done when target already exists, whatever it is. A failed
// clone removes what git left at target.
func (g *Git) Clone(ctx context.Context, source, branch, target string) (cloned bool, err error) {
	if fsutil.Exists(g.fs, target) {
		g.log.Debug(fmt.Sprintf("Running git clone %s %s, skipped since it exist.", source, target))
		return false, nil
	}

	g.log.Info(fmt.Sprintf("Running git clone %s %s", source, target))
	defer fsutil.RemoveOnError(g.fs, g.log, target, &err)()

	args := []string{"clone", source, target, "--single-branch"}
	if branch != "" {
		args = append(args, "-b", branch)
	}
	if err := g.runner.Run(ctx, run.Command{Name: g.git, Args: args}); err != nil {
		return false, err
	}
	return true, nil
}

// CurrentHash runs "git rev-parse HEAD" in dir and returns its trimmed
// combined output. What git prints is not interpreted; an error is only
// returned when git could not be run at all.
func (g *Git) CurrentHash(ctx context.Context, dir string) (string, error) {
	out, err := g.runner.CombinedOutput(ctx, run.Command{Name: g.git, Args: []string{"rev-parse", "HEAD"}, Dir: dir})
	if err != nil && run.IsStartFailure(err) {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Apply runs "git apply <patch> --whitespace=fix [-v]" in target. The patch
// is parsed first so a malformed patch fails before git touches the tree.
func (g *Git) Apply(ctx context.Context, patch, target string) error {
	g.log.Debug(fmt.Sprintf("Running git apply %s in %s", patch, target))

	files, err := g.touchedFiles(patch)
	if err != nil {
		return err
	}
	for _, name := range files {
		g.log.Debug("patch touches", "file", name)
	}

	args := []string{"apply", patch, "--whitespace=fix"}
	if g.verbose {
		args = append(args, "-v")
	}
	return g.runner.Run(ctx, run.Command{Name: g.git, Args: args, Dir: target})
}

// ErrEmptyPatch is returned for patches without file changes.
var ErrEmptyPatch = errors.New("patch contains no changes")

func (g *Git) touchedFiles(patch string) ([]string, error) {
	f, err := g.fs.Open(patch)
	if err != nil {
		return nil, fmt.Errorf("open patch: %w", err)
	}
	defer f.Close()

	diffs, _, err := gitdiff.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse patch %s: %w", patch, err)
	}
	if len(diffs) == 0 {
		return nil, fmt.Errorf("%s: %w", patch, ErrEmptyPatch)
	}
	names := make([]string, 0, len(diffs))
	for _, d := range diffs {
		name := d.NewName
		if d.IsDelete {
			name = d.OldName
		}
		names = append(names, name)
	}
	return names, nil
}

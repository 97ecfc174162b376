// Package toolfinder maps logical tool names (git, cmake, ninja) to the
// directories they are installed in.
package toolfinder

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/pkgs/buildsys"
)

// ErrToolNotFound is returned for tools that are not registered.
var ErrToolNotFound = errors.New("tool not found")

// Finder is a buildsys.ToolFinder over a fixed set of tool directories.
type Finder struct {
	host  platform.Host
	tools map[string]string
}

var _ buildsys.ToolFinder = (*Finder)(nil)

// New returns a Finder for the given name -> directory mapping. Relative
// directories are made absolute.
func New(host platform.Host, dirs map[string]string) (*Finder, error) {
	f := &Finder{host: host, tools: make(map[string]string, len(dirs))}
	for name, dir := range dirs {
		if err := f.Register(name, dir); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Register adds or replaces the directory of tool name.
func (f *Finder) Register(name, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	f.tools[name] = abs
	return nil
}

// Discover registers every name not yet known that can be found on PATH.
// Names that can not be found are returned.
func (f *Finder) Discover(names ...string) (missing []string) {
	for _, name := range names {
		if _, ok := f.tools[name]; ok {
			continue
		}
		p, err := exec.LookPath(platform.ExecutableName(name, f.host))
		if err != nil {
			missing = append(missing, name)
			continue
		}
		f.tools[name] = filepath.Dir(p)
	}
	return missing
}

func (f *Finder) Lookup(name string) (buildsys.Tool, error) {
	dir, ok := f.tools[name]
	if !ok {
		return buildsys.Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return buildsys.Tool{Name: name, Dir: dir}, nil
}

// Executable returns the absolute path of the executable of tool name and
// checks that it can be run.
func (f *Finder) Executable(name string) (string, error) {
	tool, err := f.Lookup(name)
	if err != nil {
		return "", err
	}
	p := filepath.Join(tool.Dir, platform.ExecutableName(name, f.host))
	if err := checkExecutable(p); err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return p, nil
}

// SearchPaths returns the tool directories, sorted and without duplicates.
func (f *Finder) SearchPaths() []string {
	seen := make(map[string]bool, len(f.tools))
	paths := make([]string, 0, len(f.tools))
	for _, dir := range f.tools {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		paths = append(paths, dir)
	}
	sort.Strings(paths)
	return paths
}

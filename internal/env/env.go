package env

import (
	"os"
	"path/filepath"
)

// WorkDir returns the default work directory in the user cache.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".extdep"), nil
}

// Layout is the directory structure under a work directory.
//
//	<root>/downloads/           downloaded archives
//	<root>/src/<slug>/          unpacked or cloned sources
//	<root>/build/<platform>/<slug>/
//	<root>/install/<platform>/<slug>/
//	<root>/cache/<slug>.json    build records
//	<root>/locks/<slug>.lock
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at dir, made absolute. An empty dir
// selects WorkDir.
func NewLayout(dir string) (*Layout, error) {
	if dir == "" {
		d, err := WorkDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Layout{Root: abs}, nil
}

// Ensure creates the fixed top-level directories.
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.Downloads(), l.Sources(), l.join("build"), l.join("install"), l.join("cache"), l.join("locks")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layout) join(elem ...string) string {
	return filepath.Join(append([]string{l.Root}, elem...)...)
}

func (l *Layout) Downloads() string { return l.join("downloads") }

func (l *Layout) Sources() string { return l.join("src") }

func (l *Layout) Source(slug string) string { return l.join("src", slug) }

func (l *Layout) Build(platform, slug string) string { return l.join("build", platform, slug) }

// Install returns the install prefix of slug. An empty slug returns the
// platform install root.
func (l *Layout) Install(platform, slug string) string {
	if slug == "" {
		return l.join("install", platform)
	}
	return l.join("install", platform, slug)
}

func (l *Layout) Cache(slug string) string { return l.join("cache", slug+".json") }

func (l *Layout) Lock(slug string) string { return l.join("locks", slug+".lock") }

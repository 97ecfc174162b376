// Package build runs the fetch, patch and build steps for the
// dependencies of a recipe.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/goplus/extdep/internal/config"
	"github.com/goplus/extdep/internal/env"
	"github.com/goplus/extdep/internal/fetch"
	"github.com/goplus/extdep/internal/fsutil"
	"github.com/goplus/extdep/internal/logger"
	"github.com/goplus/extdep/internal/recipe"
	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/internal/vcs"
	"github.com/goplus/extdep/pkgs/buildsys"
	"github.com/goplus/extdep/pkgs/buildsys/cmake"
)

const lockRetryDelay = 200 * time.Millisecond

// Result describes what happened to one dependency.
type Result struct {
	Name       string
	Version    string
	SourceDir  string
	InstallDir string
	Fetched    bool // the sources were downloaded or cloned by this run
	Patched    int  // number of patches applied
	Skipped    bool // the install directory existed and was kept
	GitHash    string
	BuildTime  time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(log logger.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithFs(fs afero.Fs) Option {
	return func(p *Pipeline) { p.fs = fs }
}

func WithVCS(v vcs.VCS) Option {
	return func(p *Pipeline) { p.vcs = v }
}

func WithDownloader(d *fetch.Downloader) Option {
	return func(p *Pipeline) { p.downloader = d }
}

func WithUnpacker(u *fetch.Unpacker) Option {
	return func(p *Pipeline) { p.unpacker = u }
}

// WithTools sets the tool finder handed to cmake and the builders.
func WithTools(tools buildsys.ToolFinder) Option {
	return func(p *Pipeline) { p.tools = tools }
}

// WithEnviron sets the base environment of every build.
func WithEnviron(environ func() []string) Option {
	return func(p *Pipeline) { p.environ = environ }
}

// WithInstallRoot installs every dependency below dir instead of the
// work directory.
func WithInstallRoot(dir string) Option {
	return func(p *Pipeline) { p.installRoot = dir }
}

// Pipeline fetches, patches and builds recipe dependencies for one
// platform. Dependencies are processed one at a time, in recipe order.
type Pipeline struct {
	layout *env.Layout
	cmake  *cmake.Orchestrator
	record *config.Record

	fs          afero.Fs
	log         logger.Logger
	vcs         vcs.VCS
	downloader  *fetch.Downloader
	unpacker    *fetch.Unpacker
	tools       buildsys.ToolFinder
	environ     func() []string
	installRoot string
	now         func() time.Time
}

// New returns a pipeline working below layout that builds with
// orchestrator for the platform named in rec.
func New(layout *env.Layout, orchestrator *cmake.Orchestrator, rec *config.Record, opts ...Option) *Pipeline {
	p := &Pipeline{
		layout:  layout,
		cmake:   orchestrator,
		record:  rec,
		fs:      afero.NewOsFs(),
		log:     logger.Discard(),
		environ: os.Environ,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.vcs == nil {
		p.vcs = vcs.NewGit(vcs.WithFs(p.fs), vcs.WithLogger(p.log))
	}
	if p.downloader == nil {
		p.downloader = fetch.NewDownloader(fetch.WithFs(p.fs), fetch.WithLogger(p.log))
	}
	if p.unpacker == nil {
		p.unpacker = fetch.NewUnpacker(fetch.WithFs(p.fs), fetch.WithLogger(p.log))
	}
	return p
}

// InstallDir returns the install prefix of d.
func (p *Pipeline) InstallDir(d *recipe.Dependency) string {
	if p.installRoot != "" {
		return filepath.Join(p.installRoot, d.Slug())
	}
	return p.layout.Install(p.record.PlatformName, d.Slug())
}

// Run fetches, patches and builds the dependencies named in only together
// with everything they use. No names selects every dependency. It stops
// at the first failure and returns the results so far.
func (p *Pipeline) Run(ctx context.Context, r *recipe.Recipe, only ...string) ([]Result, error) {
	return p.each(ctx, r, only, func(ctx context.Context, d *recipe.Dependency) (Result, error) {
		return p.build(ctx, r, d)
	})
}

// Fetch acquires and patches the sources without building them.
func (p *Pipeline) Fetch(ctx context.Context, r *recipe.Recipe, only ...string) ([]Result, error) {
	return p.each(ctx, r, only, func(ctx context.Context, d *recipe.Dependency) (Result, error) {
		res := Result{Name: d.Name, Version: d.Version}
		err := p.fetch(ctx, d, &res)
		return res, err
	})
}

func (p *Pipeline) each(ctx context.Context, r *recipe.Recipe, only []string, step func(context.Context, *recipe.Dependency) (Result, error)) ([]Result, error) {
	deps, err := r.Select(only...)
	if err != nil {
		return nil, err
	}
	if err := p.layout.Ensure(); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(deps))
	for _, d := range deps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		unlock, err := p.lock(ctx, d)
		if err != nil {
			return results, err
		}
		res, err := step(ctx, d)
		unlock()
		if err != nil {
			return results, fmt.Errorf("%s: %w", d.Name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// lock serializes work on one dependency across extdep processes sharing
// the work directory.
func (p *Pipeline) lock(ctx context.Context, d *recipe.Dependency) (unlock func(), err error) {
	fl := flock.New(p.layout.Lock(d.Slug()))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", fl.Path())
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			p.log.Warn("failed to release lock", "path", fl.Path(), "error", err)
		}
	}, nil
}

func (p *Pipeline) build(ctx context.Context, r *recipe.Recipe, d *recipe.Dependency) (Result, error) {
	res := Result{Name: d.Name, Version: d.Version, InstallDir: p.InstallDir(d)}
	cachePath := p.layout.Cache(d.Slug())
	cache, err := loadCache(cachePath)
	if err != nil {
		return res, fmt.Errorf("load build cache: %w", err)
	}
	key := cacheKey(p.record.PlatformName, d.BuildVariants())

	// Another process may have built it while we waited for the lock. An
	// install directory without a cache entry was not built by us and is
	// kept as is.
	if d.CanSkip() && fsutil.IsDir(p.fs, res.InstallDir) {
		res.SourceDir = p.layout.Source(d.Slug())
		res.Skipped = true
		if entry, ok := cache.get(key); ok {
			p.log.Info(fmt.Sprintf("* %s is up to date, built %s", d.Name, entry.BuildTime.Format(time.RFC3339)))
			res.GitHash = entry.GitHash
			res.BuildTime = entry.BuildTime
			return res, nil
		}
		p.log.Info(fmt.Sprintf("* %s is installed at '%s', skipping build.", d.Name, res.InstallDir))
		return res, nil
	}

	if err := p.fetch(ctx, d, &res); err != nil {
		return res, err
	}

	buildEnv, err := p.buildEnv(r, d)
	if err != nil {
		return res, err
	}
	err = p.cmake.RunCMakeAndBuild(ctx, cmake.Request{
		Tools:         p.tools,
		SourcePath:    res.SourceDir,
		InstallPath:   res.InstallDir,
		TempBuildPath: p.layout.Build(p.record.PlatformName, d.Slug()),
		Target:        d.BuildTarget(),
		ProjectName:   d.ProjectName(),
		Variants:      d.BuildVariants(),
		Options:       d.Options(),
		AllowSkip:     d.CanSkip(),
		Env:           buildEnv,
	})
	if err != nil {
		return res, err
	}

	if d.IsGit() {
		hash, err := p.vcs.CurrentHash(ctx, res.SourceDir)
		if err != nil {
			return res, err
		}
		res.GitHash = hash
	}
	res.BuildTime = p.now()

	source := d.Source.URL
	if d.IsGit() {
		source = d.Source.Git
	}
	cache.set(key, &buildEntry{
		Version:     d.Version,
		Source:      source,
		GitHash:     res.GitHash,
		Patches:     d.PatchFiles(),
		Options:     d.Options(),
		InstallDir:  res.InstallDir,
		ToolVersion: p.record.ToolVersion,
		BuildTime:   res.BuildTime,
	})
	if err := saveCache(cachePath, cache); err != nil {
		return res, fmt.Errorf("save build cache: %w", err)
	}
	return res, nil
}

// fetch acquires the sources of d and applies its patches when the
// sources are new. A failed patch removes the sources so the next run
// starts from a pristine tree.
func (p *Pipeline) fetch(ctx context.Context, d *recipe.Dependency, res *Result) (err error) {
	res.SourceDir = p.layout.Source(d.Slug())
	if d.IsGit() {
		res.Fetched, err = p.vcs.Clone(ctx, d.Source.Git, d.Source.Branch, res.SourceDir)
	} else {
		res.Fetched, err = p.fetchArchive(ctx, d, res.SourceDir)
	}
	if err != nil {
		return err
	}

	patches := d.PatchFiles()
	if !res.Fetched {
		if len(patches) > 0 {
			p.log.Debug(fmt.Sprintf("Sources at '%s' already exist, not applying %d patches.", res.SourceDir, len(patches)))
		}
		return nil
	}
	defer fsutil.RemoveOnError(p.fs, p.log, res.SourceDir, &err)()
	for _, patch := range patches {
		if err := p.vcs.Apply(ctx, patch, res.SourceDir); err != nil {
			return err
		}
		res.Patched++
	}
	return nil
}

func (p *Pipeline) fetchArchive(ctx context.Context, d *recipe.Dependency, dst string) (bool, error) {
	if fsutil.Exists(p.fs, dst) {
		p.log.Debug(fmt.Sprintf("Unpacked directory found at '%s', skipping download.", dst))
		return false, nil
	}
	name, err := d.ArchiveName()
	if err != nil {
		return false, err
	}
	archive := filepath.Join(p.layout.Downloads(), name)
	if _, err := p.downloader.DownloadFromURL(ctx, d.Source.URL, archive); err != nil {
		return false, err
	}
	return p.unpacker.RunUnpack(archive, dst)
}

// buildEnv returns the base environment for d: the install directories of
// the dependencies it uses, then the variables of its env file.
func (p *Pipeline) buildEnv(r *recipe.Recipe, d *recipe.Dependency) ([]string, error) {
	environ := p.environ()
	for _, name := range d.Uses {
		used, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("uses unknown dependency %s", name)
		}
		environ = p.cmake.UseEnv(environ, p.InstallDir(used))
	}
	if d.EnvFile == "" {
		return environ, nil
	}
	vars, err := godotenv.Read(d.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	return run.Merge(environ, vars), nil
}

// Package cmake configures source trees with CMake and builds them with
// the native build tool matching the platform generator.
package cmake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/goplus/extdep/internal/fsutil"
	"github.com/goplus/extdep/internal/logger"
	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/pkgs/buildsys"
)

// Android holds the cmake settings for Android cross builds.
type Android struct {
	ABI      string
	APILevel int
	NDK      string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner sets the runner used for cmake and the build tools.
func WithRunner(r run.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithFs sets the filesystem used for existence checks, directory
// creation and cleanup.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) { o.fs = fs }
}

func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithBuilder replaces the builder chosen for the platform generator.
func WithBuilder(b buildsys.Builder) Option {
	return func(o *Orchestrator) { o.builder = b }
}

// WithEnviron sets the base environment of child processes. The default
// is os.Environ.
func WithEnviron(environ func() []string) Option {
	return func(o *Orchestrator) { o.environ = environ }
}

// WithBuildThreads sets the build thread count, see buildsys.ThreadsAuto.
func WithBuildThreads(n int) Option {
	return func(o *Orchestrator) { o.threads = n }
}

func WithAndroid(a Android) Option {
	return func(o *Orchestrator) { o.android = a }
}

// WithTools makes every cmake invocation use the cmake registered with
// tools, when there is one.
func WithTools(tools buildsys.ToolFinder) Option {
	return func(o *Orchestrator) { o.tools = tools }
}

// WithGenerator overrides the generator derived from the platform name.
func WithGenerator(g buildsys.Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// Orchestrator runs cmake configure steps and the native builds for one
// target platform.
type Orchestrator struct {
	runner  run.Runner
	fs      afero.Fs
	log     logger.Logger
	environ func() []string
	threads int
	android Android
	tools   buildsys.ToolFinder

	platformName    string
	host            platform.Host
	exeName         string
	command         string
	generator       buildsys.Generator
	compilerShortID string
	platformArgs    []string
	finalGenerator  string
	builder         buildsys.Builder
}

// New returns an Orchestrator configured for platformName on host. It
// fails with *buildsys.UnsupportedGeneratorError when no builder exists
// for the platform generator.
func New(platformName string, host platform.Host, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		fs:           afero.NewOsFs(),
		log:          logger.Discard(),
		environ:      os.Environ,
		platformName: platformName,
		host:         host,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runner == nil {
		o.runner = run.NewExec()
	}
	if err := o.configureForPlatform(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) configureForPlatform() error {
	o.exeName = platform.ExecutableNameFor("cmake", o.platformName)
	o.command = o.resolveCommand(o.tools)
	if o.generator == "" {
		o.generator = GeneratorFor(o.platformName)
	}
	o.compilerShortID = CompilerShortID(o.generator)
	o.platformArgs = o.platformArguments()
	if o.builder == nil {
		b, err := buildsys.Select(o.generator, o.host, buildsys.Options{
			Runner:   o.runner,
			Log:      o.log,
			Threads:  o.threads,
			Host:     o.host,
			Platform: o.platformName,
		})
		if err != nil {
			return err
		}
		o.builder = b
	}
	gen, err := FinalGenerator(o.generator, o.host)
	if err != nil {
		return err
	}
	o.finalGenerator = gen
	return nil
}

// GeneratorFor returns the generator used for a platform name.
func GeneratorFor(platformName string) buildsys.Generator {
	switch {
	case strings.EqualFold(platformName, platform.Windows):
		return buildsys.GeneratorVisualStudio2017X64
	case strings.EqualFold(platformName, platform.Android):
		return buildsys.GeneratorAndroid
	}
	return buildsys.GeneratorUnixMakefile
}

// FinalGenerator returns the name cmake knows the generator by.
func FinalGenerator(g buildsys.Generator, host platform.Host) (string, error) {
	switch g {
	case buildsys.GeneratorUnixMakefile:
		return "Unix Makefiles", nil
	case buildsys.GeneratorVisualStudio2015X64:
		return "Visual Studio 14 2015 Win64", nil
	case buildsys.GeneratorVisualStudio2017X64:
		return "Visual Studio 15 2017 Win64", nil
	case buildsys.GeneratorAndroid:
		if host == platform.HostWindows {
			return "Ninja", nil
		}
		return "Unix Makefiles", nil
	}
	return "", &buildsys.UnsupportedGeneratorError{Generator: g}
}

// CompilerShortID returns the short compiler id of g, or "".
func CompilerShortID(g buildsys.Generator) string {
	switch g {
	case buildsys.GeneratorVisualStudio2015X64:
		return "vc140"
	case buildsys.GeneratorVisualStudio2017X64:
		return "vc141"
	}
	return ""
}

func (o *Orchestrator) platformArguments() []string {
	if !strings.EqualFold(o.platformName, platform.Android) {
		return nil
	}
	var d Defines
	d.Set("CMAKE_SYSTEM_NAME", "Android")
	if o.android.ABI != "" {
		d.Set("CMAKE_ANDROID_ARCH_ABI", o.android.ABI)
	}
	if o.android.APILevel > 0 {
		d.Set("CMAKE_SYSTEM_VERSION", fmt.Sprint(o.android.APILevel))
	}
	if o.android.NDK != "" {
		d.SetPath("CMAKE_ANDROID_NDK", o.android.NDK)
	}
	return d.Args()
}

func (o *Orchestrator) Builder() buildsys.Builder     { return o.builder }
func (o *Orchestrator) Generator() buildsys.Generator { return o.generator }
func (o *Orchestrator) FinalGenerator() string        { return o.finalGenerator }
func (o *Orchestrator) CompilerShortID() string       { return o.compilerShortID }
func (o *Orchestrator) Command() string               { return o.command }

// PlatformArgs returns a copy of the platform cmake arguments.
func (o *Orchestrator) PlatformArgs() []string {
	return append([]string(nil), o.platformArgs...)
}

// Request describes one configure-and-build run.
type Request struct {
	Tools         buildsys.ToolFinder
	SourcePath    string
	InstallPath   string
	TempBuildPath string
	Target        buildsys.Target
	ProjectName   string
	Variants      []buildsys.Variant
	Options       []string
	AllowSkip     bool

	// Env is the base environment of cmake and the build tool. Nil
	// selects the orchestrator environment.
	Env []string
}

// RunCMakeAndBuild configures req.SourcePath in req.TempBuildPath and
// builds it for every variant, installing into req.InstallPath. With
// AllowSkip an existing install directory means nothing is done. On
// failure the install directory is removed.
//
//	cmake -G "Visual Studio 14 2015 Win64" -DCMAKE_INSTALL_PREFIX=e:\Work\Down\Windows\final\zlib-1.2.11
func (o *Orchestrator) RunCMakeAndBuild(ctx context.Context, req Request) (err error) {
	if req.AllowSkip && fsutil.IsDir(o.fs, req.InstallPath) {
		o.log.Debug(fmt.Sprintf("Running cmake and build on source '%s' and installing to '%s' was skipped since install directory exist.", req.SourcePath, req.InstallPath))
		return nil
	}

	o.log.Debug(fmt.Sprintf("Running cmake and build on source '%s' and installing to '%s'", req.SourcePath, req.InstallPath))
	defer fsutil.RemoveOnError(o.fs, o.log, req.InstallPath, &err)()

	if err := fsutil.CreateDirectory(o.fs, req.TempBuildPath); err != nil {
		return err
	}

	options := make([]string, 0, len(req.Options)+len(o.platformArgs))
	options = append(options, req.Options...)
	options = append(options, o.platformArgs...)

	var searchPaths []string
	if req.Tools != nil {
		searchPaths = req.Tools.SearchPaths()
	}
	base := req.Env
	if base == nil {
		base = o.environ()
	}
	env := run.WithPathPrepended(base, searchPaths)
	command := o.command
	if req.Tools != nil {
		command = o.resolveCommand(req.Tools)
	}

	job := buildsys.Job{
		Tools:       req.Tools,
		Path:        req.TempBuildPath,
		Target:      req.Target,
		ProjectName: req.ProjectName,
		Env:         env,
	}
	if !o.builder.IsSingleConfiguration() {
		if err := o.runCMake(ctx, command, req.TempBuildPath, req.SourcePath, req.InstallPath, options, env, nil); err != nil {
			return err
		}
		for _, v := range req.Variants {
			job.Variant = v
			if err := o.builder.Execute(ctx, job); err != nil {
				return err
			}
		}
		return nil
	}
	for _, v := range req.Variants {
		if err := o.runCMake(ctx, command, req.TempBuildPath, req.SourcePath, req.InstallPath, options, env, &v); err != nil {
			return err
		}
		job.Variant = v
		if err := o.builder.Execute(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// resolveCommand prefers a cmake registered with the tool finder over the
// one on PATH.
func (o *Orchestrator) resolveCommand(tools buildsys.ToolFinder) string {
	if tools == nil {
		return o.exeName
	}
	tool, err := tools.Lookup("cmake")
	if err != nil {
		return o.exeName
	}
	return filepath.Join(tool.Dir, o.exeName)
}

// RunCMake runs the cmake configure step in dir. A nil variant leaves
// CMAKE_BUILD_TYPE unset.
func (o *Orchestrator) RunCMake(ctx context.Context, dir, sourcePath, installPrefix string, options, env []string, variant *buildsys.Variant) error {
	return o.runCMake(ctx, o.command, dir, sourcePath, installPrefix, options, env, variant)
}

func (o *Orchestrator) runCMake(ctx context.Context, command, dir, sourcePath, installPrefix string, options, env []string, variant *buildsys.Variant) error {
	prefix := "-DCMAKE_INSTALL_PREFIX=" + installPrefix
	o.log.Debug(fmt.Sprintf("* Running cmake at '%s' for source '%s' with prefix %s and options %v", dir, sourcePath, prefix, options))

	args := []string{"-G", o.finalGenerator, prefix}
	if variant != nil {
		args = append(args, "-DCMAKE_BUILD_TYPE="+variant.String())
	}
	args = append(args, sourcePath)
	args = append(args, options...)
	return o.runner.Run(ctx, run.Command{Name: command, Args: args, Dir: dir, Env: env})
}

package buildsys

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/goplus/extdep/internal/logger"
	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/internal/run"
)

// Build thread settings.
const (
	ThreadsDefault = 0  // let the tool decide, no flag is passed
	ThreadsAuto    = -1 // one job per CPU
)

// ErrDummyBuilder is returned by the Dummy builder.
var ErrDummyBuilder = errors.New("buildsys: the dummy builder can not execute builds")

// UnsupportedGeneratorError reports a generator without a builder on the
// given platform.
type UnsupportedGeneratorError struct {
	Generator Generator
	Platform  string
}

func (e *UnsupportedGeneratorError) Error() string {
	return fmt.Sprintf("no builder defined for the cmake generator '%s' on platform '%s'", e.Generator, e.Platform)
}

// Options carries what every builder needs.
type Options struct {
	Runner   run.Runner
	Log      logger.Logger
	Threads  int    // ThreadsDefault, ThreadsAuto or a job count
	Host     platform.Host
	Platform string // target platform name, used in error messages
}

func (o Options) withDefaults() Options {
	if o.Runner == nil {
		o.Runner = run.NewExec()
	}
	if o.Log == nil {
		o.Log = logger.Discard()
	}
	if o.Host == platform.HostUnknown {
		o.Host = platform.DetectHost()
	}
	return o
}

// Select returns the builder for generator on the given host.
//
//	UnixMakefile            any host     make
//	VisualStudio2015/17_X64 any host     msbuild
//	Android                 Windows      ninja
//	Android                 other hosts  make
func Select(gen Generator, host platform.Host, opts Options) (Builder, error) {
	opts.Host = host
	switch gen {
	case GeneratorUnixMakefile:
		return NewMake(opts), nil
	case GeneratorVisualStudio2015X64, GeneratorVisualStudio2017X64:
		return NewMSBuild(opts), nil
	case GeneratorAndroid:
		if host == platform.HostWindows {
			return NewNinja(opts), nil
		}
		return NewMake(opts), nil
	}
	return nil, &UnsupportedGeneratorError{Generator: gen, Platform: opts.Platform}
}

// threadArgs computes the job-count arguments for a build tool once.
func threadArgs(kind Kind, threads int) []string {
	if threads == ThreadsDefault || threads < ThreadsAuto {
		return nil
	}
	n := threads
	if threads == ThreadsAuto {
		n = runtime.NumCPU()
	}
	switch kind {
	case KindMSBuild:
		if threads == ThreadsAuto {
			return []string{"/maxcpucount"}
		}
		return []string{"/maxcpucount:" + strconv.Itoa(n)}
	case KindMake, KindNinja:
		return []string{"-j", strconv.Itoa(n)}
	}
	return nil
}

// execute runs cmd, logging a failure before returning it.
func execute(ctx context.Context, opts Options, tool string, cmd run.Command) error {
	if err := opts.Runner.Run(ctx, cmd); err != nil {
		opts.Log.Debug(fmt.Sprintf("* %s failed '%s'", tool, cmd))
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Make builds "Unix Makefiles" projects.
type Make struct {
	opts       Options
	threadArgs []string
}

var _ Builder = (*Make)(nil)

func NewMake(opts Options) *Make {
	return &Make{opts: opts.withDefaults(), threadArgs: threadArgs(KindMake, opts.Threads)}
}

func (b *Make) Kind() Kind                  { return KindMake }
func (b *Make) IsSingleConfiguration() bool { return true }

func (b *Make) Execute(ctx context.Context, job Job) error {
	const projectFile = "Makefile"
	b.opts.Log.Debug(fmt.Sprintf("* Running make at '%s' for project '%s' and configuration '%s'", job.Path, projectFile, job.Variant))

	args := []string{"-f", projectFile}
	args = append(args, b.threadArgs...)
	if job.Target == TargetInstall {
		args = append(args, "install")
	}
	return execute(ctx, b.opts, "make", run.Command{Name: "make", Args: args, Dir: job.Path, Env: job.Env})
}

// -----------------------------------------------------------------------------

// Ninja builds Ninja projects. The ninja executable is always taken from
// the tool finder, never from PATH.
type Ninja struct {
	opts        Options
	threadArgs  []string
	commandName string
}

var _ Builder = (*Ninja)(nil)

func NewNinja(opts Options) *Ninja {
	opts = opts.withDefaults()
	return &Ninja{
		opts:        opts,
		threadArgs:  threadArgs(KindNinja, opts.Threads),
		commandName: platform.ExecutableName("ninja", opts.Host),
	}
}

func (b *Ninja) Kind() Kind                  { return KindNinja }
func (b *Ninja) IsSingleConfiguration() bool { return true }

func (b *Ninja) Execute(ctx context.Context, job Job) error {
	if job.Tools == nil {
		return errors.New("ninja: no tool finder to resolve the ninja executable")
	}
	tool, err := job.Tools.Lookup("ninja")
	if err != nil {
		return fmt.Errorf("ninja: %w", err)
	}
	command := filepath.Join(tool.Dir, b.commandName)

	b.opts.Log.Debug(fmt.Sprintf("* Running ninja at '%s' for project '%s' and configuration '%s'", job.Path, "rules.ninja", job.Variant))
	var args []string
	if job.Target == TargetInstall {
		args = append(args, "install")
	}
	args = append(args, b.threadArgs...)
	return execute(ctx, b.opts, "ninja", run.Command{Name: command, Args: args, Dir: job.Path, Env: job.Env})
}

// -----------------------------------------------------------------------------

// MSBuild builds Visual Studio solutions. One configured tree serves all
// variants; the variant is picked with /p:Configuration.
type MSBuild struct {
	opts       Options
	threadArgs []string
}

var _ Builder = (*MSBuild)(nil)

func NewMSBuild(opts Options) *MSBuild {
	return &MSBuild{opts: opts.withDefaults(), threadArgs: threadArgs(KindMSBuild, opts.Threads)}
}

func (b *MSBuild) Kind() Kind                  { return KindMSBuild }
func (b *MSBuild) IsSingleConfiguration() bool { return false }

// msbuild Install.vcxproj /p:Configuration=Debug
// msbuild zlib.sln /p:Configuration=Release
func (b *MSBuild) Execute(ctx context.Context, job Job) error {
	projectFile := ProjectFile(job.Target, job.ProjectName)
	config, err := msbuildConfiguration(job.Variant)
	if err != nil {
		return err
	}
	b.opts.Log.Debug(fmt.Sprintf("* Running msbuild at '%s' for project '%s' and configuration '%s'", job.Path, projectFile, config))

	args := []string{projectFile, "/p:Configuration=" + config}
	args = append(args, b.threadArgs...)
	return execute(ctx, b.opts, "msbuild", run.Command{Name: "msbuild.exe", Args: args, Dir: job.Path, Env: job.Env})
}

// ProjectFile returns the msbuild project file for target.
func ProjectFile(target Target, projectName string) string {
	if target == TargetInstall {
		return "Install.vcxproj"
	}
	return projectName + ".sln"
}

func msbuildConfiguration(v Variant) (string, error) {
	switch v {
	case Debug, Release:
		return v.String(), nil
	}
	return "", fmt.Errorf("unsupported build variant: %s", v)
}

// -----------------------------------------------------------------------------

// Dummy stands in where a project is configured but must never be built.
type Dummy struct{}

var _ Builder = Dummy{}

func (Dummy) Kind() Kind                  { return KindDummy }
func (Dummy) IsSingleConfiguration() bool { return false }

func (Dummy) Execute(context.Context, Job) error {
	return ErrDummyBuilder
}

// Package buildsys drives the native build tools (make, ninja, msbuild)
// that consume the project files generated by CMake.
package buildsys

import (
	"context"
	"fmt"
	"strings"
)

// Variant is a build variant configuration.
type Variant int

const (
	Debug Variant = iota
	Release
)

func (v Variant) String() string {
	switch v {
	case Debug:
		return "Debug"
	case Release:
		return "Release"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant parses a variant name, ignoring case.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "release":
		return Release, nil
	}
	return 0, fmt.Errorf("unsupported build variant %q", s)
}

// Target selects which build target a Builder invokes.
type Target int

const (
	TargetBuild Target = iota
	TargetInstall
)

func (t Target) String() string {
	if t == TargetInstall {
		return "install"
	}
	return "build"
}

// ParseTarget parses "build" or "install".
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "build", "":
		return TargetBuild, nil
	case "install":
		return TargetInstall, nil
	}
	return 0, fmt.Errorf("unsupported build target %q", s)
}

// Generator is the CMake generator flavour chosen for a platform.
type Generator string

const (
	GeneratorUnixMakefile        Generator = "UnixMakefile"
	GeneratorVisualStudio2015X64 Generator = "VisualStudio2015_X64"
	GeneratorVisualStudio2017X64 Generator = "VisualStudio2017_X64"
	GeneratorAndroid             Generator = "Android"
)

// ParseGenerator parses a generator id such as "UnixMakefile" or the
// matching cmake generator name such as "Unix Makefiles".
func ParseGenerator(s string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unixmakefile", "unix makefiles":
		return GeneratorUnixMakefile, nil
	case "visualstudio2015_x64", "visual studio 14 2015 win64":
		return GeneratorVisualStudio2015X64, nil
	case "visualstudio2017_x64", "visual studio 15 2017 win64":
		return GeneratorVisualStudio2017X64, nil
	case "android":
		return GeneratorAndroid, nil
	}
	return "", fmt.Errorf("unsupported generator %q", s)
}

// Tool is an installed tool as resolved by a ToolFinder.
type Tool struct {
	Name string // logical name, e.g. "ninja"
	Dir  string // absolute directory holding the executable
}

// ToolFinder resolves logical tool names to installed tools.
type ToolFinder interface {
	// Lookup returns the tool registered under name.
	Lookup(name string) (Tool, error)

	// SearchPaths returns the directories of all registered tools, to be
	// put in front of PATH for child processes.
	SearchPaths() []string
}

// Job is one invocation of a Builder.
type Job struct {
	Tools       ToolFinder
	Path        string // configured build tree
	Target      Target
	ProjectName string
	Variant     Variant
	Env         []string
}

// Builder runs the native build tool against a configured build tree.
type Builder interface {
	// Kind names the build tool.
	Kind() Kind

	// IsSingleConfiguration reports whether the generated project bakes
	// the variant in at configure time. Such builders need one configure
	// step per variant; the others configure once and pick the variant
	// when building.
	IsSingleConfiguration() bool

	// Execute builds job.Path for job.Variant.
	Execute(ctx context.Context, job Job) error
}

// Kind identifies a Builder implementation.
type Kind int

const (
	KindDummy Kind = iota
	KindMake
	KindNinja
	KindMSBuild
)

func (k Kind) String() string {
	switch k {
	case KindMake:
		return "make"
	case KindNinja:
		return "ninja"
	case KindMSBuild:
		return "msbuild"
	default:
		return "dummy"
	}
}

package config

import (
	"strings"

	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/pkgs/buildsys"
)

// Record is the build configuration of one extdep invocation.
type Record struct {
	ToolVersion        string
	PlatformName       string
	VariantConstraints map[string]string
	UserSetVariables   map[string]string
	BuildCommand       string
	BuildCommandArgs   []string
	BuildArgs          []string
	Generator          buildsys.Generator
	BuildThreads       int
	ActiveVariant      buildsys.Variant
}

// NewRecord returns the record for cfg. The active variant comes from the
// "config" variant constraint when present, else from cfg.Variant.
func NewRecord(cfg *Config, host platform.Host, toolVersion, buildCommand string, commandArgs []string, constraints map[string]string) (*Record, error) {
	name := cfg.Platform
	if name == "" {
		name = platform.Default(host)
	}
	variant := cfg.Variant
	for k, v := range constraints {
		if strings.EqualFold(k, "config") {
			variant = v
		}
	}
	active, err := buildsys.ParseVariant(variant)
	if err != nil {
		return nil, err
	}
	return &Record{
		ToolVersion:        toolVersion,
		PlatformName:       name,
		VariantConstraints: constraints,
		UserSetVariables:   map[string]string{},
		BuildCommand:       buildCommand,
		BuildCommandArgs:   commandArgs,
		BuildThreads:       cfg.BuildThreads,
		ActiveVariant:      active,
	}, nil
}

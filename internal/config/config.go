// Package config loads the extdep configuration from defaults, a YAML
// file, .env files, the environment and command line flags.
package config

import (
	"github.com/goplus/extdep/pkgs/buildsys"
)

// Config is the complete extdep configuration.
type Config struct {
	Platform     string            `koanf:"platform"      validate:"omitempty,platform"`
	BuildThreads int               `koanf:"build_threads" validate:"min=-1"`
	Verbosity    int               `koanf:"verbosity"     validate:"min=0"`
	Variant      string            `koanf:"variant"       validate:"variant"`
	WorkDir      string            `koanf:"work_dir"      validate:"required"`
	InstallDir   string            `koanf:"install_dir"`
	Tools        map[string]string `koanf:"tools"`
	Log          LogConfig         `koanf:"log"`
	CMake        CMakeConfig       `koanf:"cmake"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error disabled"`
	JSON  bool   `koanf:"json"`
}

type CMakeConfig struct {
	MinVersion string        `koanf:"min_version"`
	Android    AndroidConfig `koanf:"android"`
}

// AndroidConfig holds the cmake settings for Android builds.
type AndroidConfig struct {
	ABI      string `koanf:"abi"       validate:"required"`
	APILevel int    `koanf:"api_level" validate:"min=1"`
	NDK      string `koanf:"ndk"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BuildThreads: buildsys.ThreadsAuto,
		Variant:      buildsys.Release.String(),
		WorkDir:      ".extdep",
		Log: LogConfig{
			Level: "info",
		},
		CMake: CMakeConfig{
			Android: AndroidConfig{
				ABI:      "arm64-v8a",
				APILevel: 21,
			},
		},
	}
}

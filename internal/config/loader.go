package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/pkgs/buildsys"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EXTDEP_"

// Options selects the sources Load reads. Later sources take precedence:
// defaults, File, EnvFiles, the environment, Flags.
type Options struct {
	File     string         // YAML configuration file, may be empty
	EnvFiles []string       // .env files, missing files are ignored
	Flags    map[string]any // dotted keys set from the command line
	Environ  func() []string
}

// Load builds the configuration from opts.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if opts.File != "" {
		if err := loadYAML(k, opts.File); err != nil {
			return nil, err
		}
	}
	if err := loadEnvironment(k, opts); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(opts.Flags))
	for key := range opts.Flags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := k.Set(key, opts.Flags[key]); err != nil {
			return nil, fmt.Errorf("failed to set flag %s: %w", key, err)
		}
	}
	return unmarshalAndValidate(k)
}

func loadYAML(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for key, value := range flattenMap("", m) {
		if value == nil {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from %s: %w", key, path, err)
		}
	}
	return nil
}

// flattenMap flattens a nested map into dot-notation keys. The tools map
// stays a single value so tool names may contain dots.
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && key != "tools" {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

func loadEnvironment(k *koanf.Koanf, opts Options) error {
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}
	var vars []string
	for _, file := range opts.EnvFiles {
		m, err := godotenv.Read(file)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			vars = append(vars, name+"="+m[name])
		}
	}
	vars = append(vars, environ()...)

	envToPath := envMappings()
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return transformEnvKey(envToPath, key), value
		},
		EnvironFunc: func() []string { return vars },
	}), nil)
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// transformEnvKey maps EXTDEP_CMAKE_MIN_VERSION to cmake.min_version and
// EXTDEP_TOOLS_NINJA to tools.ninja. Unknown names become "" and are
// dropped.
func transformEnvKey(envToPath map[string]string, key string) string {
	if path, ok := envToPath[key]; ok {
		return path
	}
	if name, ok := strings.CutPrefix(key, EnvPrefix+"TOOLS_"); ok && name != "" {
		return "tools." + strings.ToLower(name)
	}
	return ""
}

// envMappings derives the environment variable of every leaf key of Config
// from its koanf tags.
func envMappings() map[string]string {
	m := map[string]string{}
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag := f.Tag.Get("koanf")
			if tag == "" {
				continue
			}
			path := tag
			if prefix != "" {
				path = prefix + "." + tag
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, path)
				continue
			}
			if f.Type.Kind() == reflect.Map {
				continue
			}
			name := EnvPrefix + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
			m[name] = path
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return m
}

func unmarshalAndValidate(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if cfg.Platform != "" {
		if name, err := platform.Canonical(cfg.Platform); err == nil {
			cfg.Platform = name
		}
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks cfg against its validation tags.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		_, err := platform.Canonical(fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}
	if err := v.RegisterValidation("variant", func(fl validator.FieldLevel) bool {
		_, err := buildsys.ParseVariant(fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}
	return v.Struct(cfg)
}

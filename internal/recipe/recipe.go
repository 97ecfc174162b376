// Package recipe reads the YAML files that list external dependencies and
// how to fetch and build each of them.
//
//	defaults:
//	  variants: [Debug, Release]
//	  target: install
//	dependencies:
//	  - name: zlib
//	    version: 1.2.11
//	    source:
//	      url: https://zlib.net/zlib-1.2.11.tar.gz
//	    patches: ["patches/zlib/*.patch"]
//	    cmake:
//	      project: zlib
//	      options: -DBUILD_SHARED_LIBS=OFF
package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/shlex"
	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"github.com/goplus/extdep/pkgs/buildsys"
	"github.com/goplus/extdep/pkgs/buildsys/cmake"
)

// Recipe is a parsed recipe file.
type Recipe struct {
	Defaults     Settings      `yaml:"defaults"`
	Dependencies []*Dependency `yaml:"dependencies" validate:"required,dive"`

	// Dir is the directory of the recipe file; patches and env files are
	// relative to it.
	Dir string `yaml:"-"`
}

// Settings are the build settings a dependency may inherit from the
// recipe defaults.
type Settings struct {
	Variants  []string `yaml:"variants"   validate:"dive,variant"`
	Target    string   `yaml:"target"     validate:"omitempty,oneof=build install"`
	AllowSkip *bool    `yaml:"allow_skip"`
	CMake     CMake    `yaml:"cmake"`
}

type CMake struct {
	Project string            `yaml:"project"`
	Options string            `yaml:"options"`
	Defines map[string]string `yaml:"defines"`
}

type Source struct {
	URL     string `yaml:"url"     validate:"required_without=Git,excluded_with=Git,omitempty,url"`
	Archive string `yaml:"archive"`
	Git     string `yaml:"git"     validate:"required_without=URL"`
	Branch  string `yaml:"branch"  validate:"excluded_without=Git"`
}

// Dependency is one external dependency.
type Dependency struct {
	Name     string   `yaml:"name"     validate:"required"`
	Version  string   `yaml:"version"`
	Source   Source   `yaml:"source"`
	Patches  []string `yaml:"patches"`
	Uses     []string `yaml:"uses"`
	EnvFile  string   `yaml:"env_file"`
	Settings `yaml:",inline"`

	patchFiles []string
	variants   []buildsys.Variant
	target     buildsys.Target
	options    []string
}

// Load reads and validates the recipe at path.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	r, err := Parse(data, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse parses a recipe whose relative paths are resolved against dir.
func Parse(data []byte, dir string) (*Recipe, error) {
	var r Recipe
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	r.Dir = dir
	if err := r.resolve(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Recipe) resolve() error {
	if err := newValidator().Struct(r); err != nil {
		return err
	}
	seen := map[string]bool{}
	slugs := map[string]string{}
	for _, d := range r.Dependencies {
		if seen[d.Name] {
			return fmt.Errorf("dependency %s: defined twice", d.Name)
		}
		// Directories, locks and build caches are keyed by slug.
		if other, ok := slugs[d.Slug()]; ok {
			return fmt.Errorf("dependency %s: clashes with %s, both use %s", d.Name, other, d.Slug())
		}
		slugs[d.Slug()] = d.Name
		for _, use := range d.Uses {
			if !seen[use] {
				return fmt.Errorf("dependency %s: uses %s, which is not defined before it", d.Name, use)
			}
		}
		seen[d.Name] = true
		if err := r.resolveDependency(d); err != nil {
			return fmt.Errorf("dependency %s: %w", d.Name, err)
		}
	}
	return nil
}

func (r *Recipe) resolveDependency(d *Dependency) error {
	if err := mergo.Merge(&d.Settings, r.Defaults); err != nil {
		return err
	}
	if len(d.Settings.Variants) == 0 {
		d.Settings.Variants = []string{buildsys.Release.String()}
	}
	for _, s := range d.Settings.Variants {
		v, err := buildsys.ParseVariant(s)
		if err != nil {
			return err
		}
		d.variants = append(d.variants, v)
	}
	if d.Settings.Target == "" {
		d.Settings.Target = buildsys.TargetInstall.String()
	}
	target, err := buildsys.ParseTarget(d.Settings.Target)
	if err != nil {
		return err
	}
	d.target = target

	options, err := shlex.Split(d.CMake.Options)
	if err != nil {
		return fmt.Errorf("cmake options: %w", err)
	}
	var defines cmake.Defines
	for k, v := range d.CMake.Defines {
		defines.Set(k, v)
	}
	d.options = append(options, defines.Args()...)

	for _, pattern := range d.Patches {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(r.Dir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return fmt.Errorf("patches %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("patches %s: %w", pattern, os.ErrNotExist)
		}
		sort.Strings(matches)
		d.patchFiles = append(d.patchFiles, matches...)
	}
	if d.EnvFile != "" && !filepath.IsAbs(d.EnvFile) {
		d.EnvFile = filepath.Join(r.Dir, d.EnvFile)
	}
	return nil
}

// Lookup returns the dependency called name.
func (r *Recipe) Lookup(name string) (*Dependency, bool) {
	for _, d := range r.Dependencies {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Select returns the named dependencies together with everything they
// use, in recipe order. No names selects everything.
func (r *Recipe) Select(names ...string) ([]*Dependency, error) {
	if len(names) == 0 {
		return r.Dependencies, nil
	}
	want := map[string]bool{}
	var mark func(name string) error
	mark = func(name string) error {
		if want[name] {
			return nil
		}
		d, ok := r.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown dependency %q", name)
		}
		want[name] = true
		for _, use := range d.Uses {
			if err := mark(use); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := mark(name); err != nil {
			return nil, err
		}
	}
	var out []*Dependency
	for _, d := range r.Dependencies {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Slug returns the directory name used for the dependency.
func (d *Dependency) Slug() string {
	if d.Version == "" {
		return slug.Make(d.Name)
	}
	return slug.Make(d.Name + "-" + d.Version)
}

// IsGit reports whether the sources come from a git repository.
func (d *Dependency) IsGit() bool { return d.Source.Git != "" }

// ArchiveName returns the file name the source archive is saved as.
func (d *Dependency) ArchiveName() (string, error) {
	if d.Source.Archive != "" {
		return d.Source.Archive, nil
	}
	u, err := url.Parse(d.Source.URL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return "", errors.New("can not derive an archive name from " + d.Source.URL + ", set source.archive")
	}
	return name, nil
}

// ProjectName returns the cmake project name, defaulting to the
// dependency name.
func (d *Dependency) ProjectName() string {
	if d.CMake.Project != "" {
		return d.CMake.Project
	}
	return d.Name
}

// PatchFiles returns the patch files in the order they are applied.
func (d *Dependency) PatchFiles() []string { return d.patchFiles }

// BuildVariants returns the variants to build, Release unless set.
func (d *Dependency) BuildVariants() []buildsys.Variant { return d.variants }

func (d *Dependency) BuildTarget() buildsys.Target { return d.target }

// Options returns the cmake options: the split options string followed by
// the defines.
func (d *Dependency) Options() []string {
	return append([]string(nil), d.options...)
}

// CanSkip reports whether an existing install directory skips the build.
func (d *Dependency) CanSkip() bool {
	return d.Settings.AllowSkip != nil && *d.Settings.AllowSkip
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("variant", func(fl validator.FieldLevel) bool {
		_, err := buildsys.ParseVariant(fl.Field().String())
		return err == nil
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

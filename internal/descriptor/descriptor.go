// Package descriptor reads the XML tool configuration: package locations
// and the cmake settings shared by every build.
//
//	<ToolConfig>
//	  <PackageConfiguration Name="default" Preload="true">
//	    <PackageLocation Name="$(EXTDEP_SDK)/Packages"/>
//	  </PackageConfiguration>
//	  <CMakeConfiguration DefaultBuildDir="build" NinjaRecipe="Recipe.BuildTool.ninja" MinVersion="3.10.2">
//	    <Platform Name="Ubuntu" DefaultGeneratorName="UnixMakefile"/>
//	  </CMakeConfiguration>
//	</ToolConfig>
package descriptor

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goplus/extdep/internal/run"
)

// InconsistencyError is returned when two package configurations with
// different identities are merged.
type InconsistencyError struct {
	Name, Other string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("can only merge two configurations with the same id, got '%s' and '%s'", e.Name, e.Other)
}

// AttributeError reports a missing, unknown or malformed attribute.
type AttributeError struct {
	Element   string
	Attribute string
	Reason    string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("<%s>: attribute '%s' %s", e.Element, e.Attribute, e.Reason)
}

// ScanMethod tells how a package location is searched.
type ScanMethod string

const (
	ScanDirectory         ScanMethod = "Directory"
	ScanOneSubDirectory   ScanMethod = "OneSubDirectory"
	ScanAllSubDirectories ScanMethod = "AllSubDirectories"
)

type PackageLocation struct {
	Name       string
	ScanMethod ScanMethod
}

var varRef = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_]*)\)`)

// Expand replaces every $(NAME) in the location with its value in env.
func (l PackageLocation) Expand(env []string) (string, error) {
	var missing []string
	s := varRef.ReplaceAllStringFunc(l.Name, func(ref string) string {
		name := varRef.FindStringSubmatch(ref)[1]
		v, ok := run.Lookup(env, name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("location '%s': environment variable %s not defined", l.Name, strings.Join(missing, ", "))
	}
	return s, nil
}

// PackageConfiguration is a named set of package locations.
type PackageConfiguration struct {
	Name       string
	Preload    bool
	Locations  []PackageLocation
	SourceFile string
	ID         string
}

// Merge appends the locations of other. Both must have the same name.
func (c *PackageConfiguration) Merge(other *PackageConfiguration) error {
	if c.Name != other.Name || c.ID != other.ID {
		return &InconsistencyError{Name: c.Name, Other: other.Name}
	}
	c.Locations = append(c.Locations, other.Locations...)
	return nil
}

type CMakePlatform struct {
	Name                 string
	DefaultGeneratorName string
	DefaultInstallPrefix string
	AllowFindPackage     bool
}

type CMakeConfiguration struct {
	DefaultBuildDir      string
	NinjaRecipe          string
	DefaultInstallPrefix string
	MinVersion           string
	Platforms            []CMakePlatform
}

// Platform returns the settings for the named platform.
func (c *CMakeConfiguration) Platform(name string) (CMakePlatform, bool) {
	for _, p := range c.Platforms {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return CMakePlatform{}, false
}

// ToolConfig is the content of one or more tool configuration files.
type ToolConfig struct {
	Packages []*PackageConfiguration
	CMake    *CMakeConfiguration
}

// Package returns the package configuration with the given name.
func (t *ToolConfig) Package(name string) (*PackageConfiguration, bool) {
	id := strings.ToLower(name)
	for _, p := range t.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (t *ToolConfig) addPackage(p *PackageConfiguration) error {
	if have, ok := t.Package(p.Name); ok {
		if have.Name != p.Name {
			return fmt.Errorf("%s: %w", p.SourceFile, &InconsistencyError{Name: have.Name, Other: p.Name})
		}
		return have.Merge(p)
	}
	t.Packages = append(t.Packages, p)
	return nil
}

// LoadToolConfig reads the tool configuration at path. Package
// configurations sharing a name are merged.
func LoadToolConfig(path string) (*ToolConfig, error) {
	return LoadToolConfigs(path)
}

// LoadToolConfigs reads and merges several tool configurations. The first
// file with a CMakeConfiguration wins.
func LoadToolConfigs(paths ...string) (*ToolConfig, error) {
	tc := &ToolConfig{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := tc.parse(data, path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return tc, nil
}

// Parse parses a tool configuration read from sourceFile.
func Parse(data []byte, sourceFile string) (*ToolConfig, error) {
	tc := &ToolConfig{}
	if err := tc.parse(data, sourceFile); err != nil {
		return nil, err
	}
	return tc, nil
}

func (t *ToolConfig) parse(data []byte, sourceFile string) error {
	var doc xmlToolConfig
	if err := xml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.CMake) > 1 {
		return errors.New("more than one CMakeConfiguration")
	}
	for _, x := range doc.Packages {
		p, err := x.convert(sourceFile)
		if err != nil {
			return err
		}
		if err := t.addPackage(p); err != nil {
			return err
		}
	}
	if len(doc.CMake) == 1 && t.CMake == nil {
		c, err := doc.CMake[0].convert()
		if err != nil {
			return err
		}
		t.CMake = c
	}
	return nil
}

type xmlToolConfig struct {
	XMLName  xml.Name                  `xml:"ToolConfig"`
	Packages []xmlPackageConfiguration `xml:"PackageConfiguration"`
	CMake    []xmlCMakeConfiguration   `xml:"CMakeConfiguration"`
}

type xmlPackageConfiguration struct {
	Name      *string              `xml:"Name,attr"`
	Preload   *string              `xml:"Preload,attr"`
	Locations []xmlPackageLocation `xml:"PackageLocation"`
	Extra     []xml.Attr           `xml:",any,attr"`
}

type xmlPackageLocation struct {
	Name       *string    `xml:"Name,attr"`
	ScanMethod *string    `xml:"ScanMethod,attr"`
	Extra      []xml.Attr `xml:",any,attr"`
}

type xmlCMakeConfiguration struct {
	DefaultBuildDir      *string            `xml:"DefaultBuildDir,attr"`
	NinjaRecipe          *string            `xml:"NinjaRecipe,attr"`
	DefaultInstallPrefix *string            `xml:"DefaultInstallPrefix,attr"`
	MinVersion           *string            `xml:"MinVersion,attr"`
	Platforms            []xmlCMakePlatform `xml:"Platform"`
	Extra                []xml.Attr         `xml:",any,attr"`
}

type xmlCMakePlatform struct {
	Name                 *string    `xml:"Name,attr"`
	DefaultGeneratorName *string    `xml:"DefaultGeneratorName,attr"`
	DefaultInstallPrefix *string    `xml:"DefaultInstallPrefix,attr"`
	AllowFindPackage     *string    `xml:"AllowFindPackage,attr"`
	Extra                []xml.Attr `xml:",any,attr"`
}

func checkAttributes(element string, extra []xml.Attr) error {
	if len(extra) > 0 {
		return &AttributeError{Element: element, Attribute: extra[0].Name.Local, Reason: "is unknown"}
	}
	return nil
}

func required(element, attr string, v *string) (string, error) {
	if v == nil {
		return "", &AttributeError{Element: element, Attribute: attr, Reason: "is required"}
	}
	return *v, nil
}

func optional(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func boolAttr(element, attr string, v *string, def bool) (bool, error) {
	if v == nil {
		return def, nil
	}
	b, err := strconv.ParseBool(*v)
	if err != nil {
		return false, &AttributeError{Element: element, Attribute: attr, Reason: "is not a boolean: " + *v}
	}
	return b, nil
}

func (x *xmlPackageConfiguration) convert(sourceFile string) (*PackageConfiguration, error) {
	const elem = "PackageConfiguration"
	if err := checkAttributes(elem, x.Extra); err != nil {
		return nil, err
	}
	name, err := required(elem, "Name", x.Name)
	if err != nil {
		return nil, err
	}
	preload, err := boolAttr(elem, "Preload", x.Preload, false)
	if err != nil {
		return nil, err
	}
	p := &PackageConfiguration{
		Name:       name,
		Preload:    preload,
		SourceFile: sourceFile,
		ID:         strings.ToLower(name),
	}
	for _, l := range x.Locations {
		loc, err := l.convert()
		if err != nil {
			return nil, err
		}
		p.Locations = append(p.Locations, loc)
	}
	return p, nil
}

func (x *xmlPackageLocation) convert() (PackageLocation, error) {
	const elem = "PackageLocation"
	if err := checkAttributes(elem, x.Extra); err != nil {
		return PackageLocation{}, err
	}
	name, err := required(elem, "Name", x.Name)
	if err != nil {
		return PackageLocation{}, err
	}
	method := ScanMethod(optional(x.ScanMethod, string(ScanOneSubDirectory)))
	switch method {
	case ScanDirectory, ScanOneSubDirectory, ScanAllSubDirectories:
	default:
		return PackageLocation{}, &AttributeError{Element: elem, Attribute: "ScanMethod", Reason: "has unknown value " + string(method)}
	}
	return PackageLocation{Name: name, ScanMethod: method}, nil
}

func (x *xmlCMakeConfiguration) convert() (*CMakeConfiguration, error) {
	const elem = "CMakeConfiguration"
	if err := checkAttributes(elem, x.Extra); err != nil {
		return nil, err
	}
	buildDir, err := required(elem, "DefaultBuildDir", x.DefaultBuildDir)
	if err != nil {
		return nil, err
	}
	ninja, err := required(elem, "NinjaRecipe", x.NinjaRecipe)
	if err != nil {
		return nil, err
	}
	c := &CMakeConfiguration{
		DefaultBuildDir:      buildDir,
		NinjaRecipe:          ninja,
		DefaultInstallPrefix: optional(x.DefaultInstallPrefix, ""),
		MinVersion:           optional(x.MinVersion, ""),
	}
	for _, xp := range x.Platforms {
		p, err := xp.convert()
		if err != nil {
			return nil, err
		}
		c.Platforms = append(c.Platforms, p)
	}
	return c, nil
}

func (x *xmlCMakePlatform) convert() (CMakePlatform, error) {
	const elem = "Platform"
	if err := checkAttributes(elem, x.Extra); err != nil {
		return CMakePlatform{}, err
	}
	name, err := required(elem, "Name", x.Name)
	if err != nil {
		return CMakePlatform{}, err
	}
	allow, err := boolAttr(elem, "AllowFindPackage", x.AllowFindPackage, true)
	if err != nil {
		return CMakePlatform{}, err
	}
	return CMakePlatform{
		Name:                 name,
		DefaultGeneratorName: optional(x.DefaultGeneratorName, ""),
		DefaultInstallPrefix: optional(x.DefaultInstallPrefix, ""),
		AllowFindPackage:     allow,
	}, nil
}

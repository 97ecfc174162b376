package internal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/goplus/extdep/internal/build"
	"github.com/goplus/extdep/internal/descriptor"
	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/internal/run/runtest"
)

// execute runs the root command with args and a fake runner.
func execute(t *testing.T, h runtest.Handler, args ...string) (*runtest.Recorder, string, error) {
	t.Helper()
	rec := runtest.New(h)
	saved := newRunner
	newRunner = func() run.Runner { return rec }
	t.Cleanup(func() { newRunner = saved })
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return rec, out.String(), err
}

// resetFlags puts every flag back to its default so values do not leak
// from one execution of rootCmd into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.LocalNonPersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestParseDefines(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"FOO=1"}, []string{"-DFOO=1"}},
		{[]string{"B:BOOL=yes", "A:STRING=x y"}, []string{"-DA:STRING=x y", "-DB:BOOL=ON"}},
		{[]string{"NDK:PATH=/opt/ndk", "X:FILEPATH=/f"}, []string{"-DNDK:PATH=/opt/ndk", "-DX:FILEPATH=/f"}},
		{[]string{"EMPTY="}, []string{"-DEMPTY="}},
	}
	for _, tt := range tests {
		d, err := parseDefines(tt.in)
		if err != nil {
			t.Fatalf("parseDefines(%v): %v", tt.in, err)
		}
		if got := d.Args(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseDefines(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"NOVALUE", "=1", "B:BOOL=maybe"} {
		if _, err := parseDefines([]string{bad}); err == nil {
			t.Errorf("parseDefines(%q) succeeded", bad)
		}
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []build.Result{
		{Name: "zlib", Version: "1.2.11", InstallDir: "/i/zlib", Fetched: true},
		{Name: "glm", InstallDir: "/i/glm", Skipped: true, GitHash: "abc123", BuildTime: time.Now()},
		{Name: "png", SourceDir: "/s/png"},
	})
	out := buf.String()
	for _, want := range []string{"NAME", "zlib", "1.2.11", "fetched, built", "up to date", "abc123", "present", "/s/png"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printResults(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("empty results printed %q", buf.String())
	}
}

func TestPrintLocations(t *testing.T) {
	tc, err := descriptor.Parse([]byte(`<ToolConfig>
  <PackageConfiguration Name="default" Preload="true">
    <PackageLocation Name="$(SDK)/Packages"/>
  </PackageConfiguration>
  <CMakeConfiguration DefaultBuildDir="build" NinjaRecipe="ninja" MinVersion="3.10"/>
</ToolConfig>`), "tool.xml")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printLocations(&buf, tc, []string{"SDK=/sdk"}); err != nil {
		t.Fatal(err)
	}
	want := "default (preload)\n  /sdk/Packages [OneSubDirectory]\ncmake: build dir build, ninja recipe ninja, min version 3.10\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
	if err := printLocations(&buf, tc, nil); err == nil {
		t.Error("expected an error for an undefined variable")
	}
}

func TestConfigureCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	buildDir := filepath.Join(dir, "build")
	prefix := filepath.Join(dir, "prefix")

	rec, _, err := execute(t, nil, "configure",
		"--platform", "Ubuntu", "--work-dir", filepath.Join(dir, "work"),
		"--prefix", prefix, "-D", "FOO=1", src, buildDir)
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if len(rec.Commands) != 1 {
		t.Fatalf("ran %v, want one cmake invocation", rec.Lines())
	}
	cmd := rec.Commands[0]
	want := []string{"-G", "Unix Makefiles", "-DCMAKE_INSTALL_PREFIX=" + prefix, "-DCMAKE_BUILD_TYPE=Release", src, "-DFOO=1"}
	if runtest.Tool(cmd) != "cmake" || !reflect.DeepEqual(cmd.Args, want) || cmd.Dir != buildDir {
		t.Errorf("got %s %v in %q, want cmake %v in %q", cmd.Name, cmd.Args, cmd.Dir, want, buildDir)
	}
	if _, err := os.Stat(buildDir); err != nil {
		t.Errorf("build directory not created: %v", err)
	}
}

func TestConfigureToolConfigGenerator(t *testing.T) {
	dir := t.TempDir()
	writeToolConfig := func(generator string) string {
		file := filepath.Join(dir, generator+".xml")
		data := `<ToolConfig><CMakeConfiguration DefaultBuildDir="build" NinjaRecipe="n"><Platform Name="Ubuntu" DefaultGeneratorName="` + generator + `"/></CMakeConfiguration></ToolConfig>`
		if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		return file
	}
	configure := func(toolConfig string) (*runtest.Recorder, error) {
		rec, _, err := execute(t, nil, "configure",
			"--platform", "Ubuntu", "--work-dir", filepath.Join(dir, "work"),
			"--tool-config", toolConfig,
			"--prefix", filepath.Join(dir, "prefix"), filepath.Join(dir, "src"), filepath.Join(dir, "build"))
		return rec, err
	}

	rec, err := configure(writeToolConfig("Unix Makefiles"))
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if len(rec.Commands) != 1 || rec.Commands[0].Args[1] != "Unix Makefiles" {
		t.Errorf("ran %v", rec.Lines())
	}

	if _, err := configure(writeToolConfig("Ninja")); err == nil || !strings.Contains(err.Error(), "Ninja") {
		t.Errorf("err = %v, want an unsupported generator error", err)
	}
}

func TestHashCommand(t *testing.T) {
	dir := t.TempDir()
	h := func(cmd run.Command) (string, int) { return "deadbeef\n", 0 }
	rec, out, err := execute(t, h, "hash", "--work-dir", filepath.Join(dir, "work"), dir)
	if err != nil {
		t.Fatal(err)
	}
	if out != "deadbeef\n" {
		t.Errorf("output = %q", out)
	}
	if got := rec.Lines(); len(got) != 1 || got[0] != "git rev-parse HEAD" {
		t.Errorf("ran %v", got)
	}
}

func TestBuildCommand(t *testing.T) {
	dir := t.TempDir()
	recipeFile := filepath.Join(dir, "deps.yaml")
	if err := os.WriteFile(recipeFile, []byte(`
dependencies:
  - name: glm
    source: {git: https://github.com/g-truc/glm.git, branch: "0.9.9.8"}
`), 0o644); err != nil {
		t.Fatal(err)
	}
	h := func(cmd run.Command) (string, int) {
		if runtest.Tool(cmd) == "git" && cmd.Args[0] == "clone" {
			_ = os.MkdirAll(cmd.Args[2], 0o755)
		}
		if runtest.Tool(cmd) == "git" && cmd.Args[0] == "rev-parse" {
			return "abc123\n", 0
		}
		return "", 0
	}
	work := filepath.Join(dir, "work")
	rec, out, err := execute(t, h, "build", "--platform", "Ubuntu", "--work-dir", work, "--threads", "2", recipeFile)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	for _, want := range []string{"glm", "fetched, built", "abc123", filepath.Join(work, "install", "Ubuntu", "glm")} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if n := rec.Count("cmake"); n != 1 {
		t.Errorf("cmake ran %d times: %v", n, rec.Lines())
	}
	var makeArgs []string
	for _, c := range rec.Commands {
		if runtest.Tool(c) == "make" {
			makeArgs = c.Args
		}
	}
	if want := []string{"-f", "Makefile", "-j", "2", "install"}; !reflect.DeepEqual(makeArgs, want) {
		t.Errorf("make args = %v, want %v", makeArgs, want)
	}
	if _, err := os.Stat(filepath.Join(work, "cache", "glm.json")); err != nil {
		t.Errorf("build cache not written: %v", err)
	}
}

func TestLocationsCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tool.xml")
	if err := os.WriteFile(file, []byte(`<ToolConfig><PackageConfiguration Name="sdk"><PackageLocation Name="/opt/sdk" ScanMethod="Directory"/></PackageConfiguration></ToolConfig>`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, out, err := execute(t, nil, "locations", file)
	if err != nil {
		t.Fatal(err)
	}
	if want := "sdk\n  /opt/sdk [Directory]\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestUnknownPlatform(t *testing.T) {
	_, _, err := execute(t, nil, "hash", "--platform", "Amiga", "--work-dir", t.TempDir(), ".")
	if err == nil {
		t.Fatal("expected a configuration error")
	}
}

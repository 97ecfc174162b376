package buildsys

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/internal/run/runtest"
)

type fakeTools map[string]string

func (f fakeTools) Lookup(name string) (Tool, error) {
	dir, ok := f[name]
	if !ok {
		return Tool{}, fmt.Errorf("tool %q not found", name)
	}
	return Tool{Name: name, Dir: dir}, nil
}

func (f fakeTools) SearchPaths() []string {
	var out []string
	for _, dir := range f {
		out = append(out, dir)
	}
	return out
}

func TestSelect(t *testing.T) {
	tests := []struct {
		gen    Generator
		host   platform.Host
		kind   Kind
		single bool
	}{
		{GeneratorUnixMakefile, platform.HostLinux, KindMake, true},
		{GeneratorUnixMakefile, platform.HostWindows, KindMake, true},
		{GeneratorVisualStudio2015X64, platform.HostWindows, KindMSBuild, false},
		{GeneratorVisualStudio2017X64, platform.HostWindows, KindMSBuild, false},
		{GeneratorVisualStudio2017X64, platform.HostLinux, KindMSBuild, false},
		{GeneratorAndroid, platform.HostWindows, KindNinja, true},
		{GeneratorAndroid, platform.HostLinux, KindMake, true},
		{GeneratorAndroid, platform.HostMacOS, KindMake, true},
	}
	for _, tt := range tests {
		b, err := Select(tt.gen, tt.host, Options{Runner: runtest.New(nil)})
		if err != nil {
			t.Fatalf("Select(%s, %s): %v", tt.gen, tt.host, err)
		}
		if b.Kind() != tt.kind {
			t.Errorf("Select(%s, %s) = %s, want %s", tt.gen, tt.host, b.Kind(), tt.kind)
		}
		if b.IsSingleConfiguration() != tt.single {
			t.Errorf("%s.IsSingleConfiguration() = %v, want %v", b.Kind(), b.IsSingleConfiguration(), tt.single)
		}
	}
}

func TestSelectUnsupported(t *testing.T) {
	_, err := Select(Generator("Xcode"), platform.HostMacOS, Options{Platform: "Ubuntu"})
	var ue *UnsupportedGeneratorError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UnsupportedGeneratorError", err)
	}
	if ue.Generator != "Xcode" || ue.Platform != "Ubuntu" {
		t.Errorf("got %+v", ue)
	}
	if !strings.Contains(err.Error(), "'Xcode'") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestThreadArgs(t *testing.T) {
	cpus := strconv.Itoa(runtime.NumCPU())
	tests := []struct {
		kind    Kind
		threads int
		want    string
	}{
		{KindMake, ThreadsDefault, ""},
		{KindMake, 4, "-j 4"},
		{KindMake, ThreadsAuto, "-j " + cpus},
		{KindNinja, 2, "-j 2"},
		{KindMSBuild, ThreadsDefault, ""},
		{KindMSBuild, 8, "/maxcpucount:8"},
		{KindMSBuild, ThreadsAuto, "/maxcpucount"},
		{KindDummy, 8, ""},
		{KindMake, -7, ""},
	}
	for _, tt := range tests {
		got := strings.Join(threadArgs(tt.kind, tt.threads), " ")
		if got != tt.want {
			t.Errorf("threadArgs(%s, %d) = %q, want %q", tt.kind, tt.threads, got, tt.want)
		}
	}
}

func TestMakeExecute(t *testing.T) {
	rec := runtest.New(nil)
	b := NewMake(Options{Runner: rec, Threads: 3})

	err := b.Execute(context.Background(), Job{Path: "/b", Target: TargetInstall, Variant: Release})
	if err != nil {
		t.Fatal(err)
	}
	err = b.Execute(context.Background(), Job{Path: "/b", Target: TargetBuild, Variant: Release})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"make -f Makefile -j 3 install", "make -f Makefile -j 3"}
	if got := rec.Lines(); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("commands = %q, want %q", got, want)
	}
	if rec.Commands[0].Dir != "/b" {
		t.Errorf("Dir = %q, want /b", rec.Commands[0].Dir)
	}
}

func TestNinjaUsesToolFinder(t *testing.T) {
	rec := runtest.New(nil)
	b := NewNinja(Options{Runner: rec, Host: platform.HostWindows, Threads: 2})
	tools := fakeTools{"ninja": filepath.Join("C:", "tools", "ninja")}

	err := b.Execute(context.Background(), Job{Tools: tools, Path: "/b", Target: TargetInstall})
	if err != nil {
		t.Fatal(err)
	}
	got := rec.Commands[0]
	if want := filepath.Join("C:", "tools", "ninja", "ninja.exe"); got.Name != want {
		t.Errorf("Name = %q, want %q", got.Name, want)
	}
	if strings.Join(got.Args, " ") != "install -j 2" {
		t.Errorf("Args = %q", got.Args)
	}
}

func TestNinjaMissingTool(t *testing.T) {
	rec := runtest.New(nil)
	b := NewNinja(Options{Runner: rec, Host: platform.HostLinux})
	if err := b.Execute(context.Background(), Job{Tools: fakeTools{}, Path: "/b"}); err == nil {
		t.Fatal("expected error")
	}
	if len(rec.Commands) != 0 {
		t.Errorf("ran %d commands, want 0", len(rec.Commands))
	}
}

func TestMSBuildProjectFile(t *testing.T) {
	rec := runtest.New(nil)
	b := NewMSBuild(Options{Runner: rec})

	ctx := context.Background()
	if err := b.Execute(ctx, Job{Path: "/b", Target: TargetInstall, ProjectName: "zlib", Variant: Debug}); err != nil {
		t.Fatal(err)
	}
	if err := b.Execute(ctx, Job{Path: "/b", Target: TargetBuild, ProjectName: "zlib", Variant: Release}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"msbuild Install.vcxproj /p:Configuration=Debug",
		"msbuild zlib.sln /p:Configuration=Release",
	}
	if got := rec.Lines(); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestBuilderFailure(t *testing.T) {
	rec := runtest.New(runtest.FailOn("make"))
	b := NewMake(Options{Runner: rec})

	err := b.Execute(context.Background(), Job{Path: "/b"})
	var te *run.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *run.ToolError", err)
	}
	if te.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", te.ExitCode)
	}
}

func TestDummy(t *testing.T) {
	var b Builder = Dummy{}
	if err := b.Execute(context.Background(), Job{}); !errors.Is(err, ErrDummyBuilder) {
		t.Errorf("err = %v, want ErrDummyBuilder", err)
	}
	if b.Kind() != KindDummy {
		t.Errorf("Kind = %s", b.Kind())
	}
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]Variant{"debug": Debug, "Release": Release, " RELEASE ": Release} {
		got, err := ParseVariant(in)
		if err != nil || got != want {
			t.Errorf("ParseVariant(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseVariant("coverage"); err == nil {
		t.Error("expected error")
	}
}

func TestParseGenerator(t *testing.T) {
	for in, want := range map[string]Generator{
		"UnixMakefile":                GeneratorUnixMakefile,
		"Unix Makefiles":              GeneratorUnixMakefile,
		"visualstudio2015_x64":        GeneratorVisualStudio2015X64,
		"Visual Studio 15 2017 Win64": GeneratorVisualStudio2017X64,
		"Android":                     GeneratorAndroid,
	} {
		got, err := ParseGenerator(in)
		if err != nil || got != want {
			t.Errorf("ParseGenerator(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseGenerator("Ninja"); err == nil {
		t.Error("expected error")
	}
}

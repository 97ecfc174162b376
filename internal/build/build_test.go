package build

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/goplus/extdep/internal/config"
	"github.com/goplus/extdep/internal/env"
	"github.com/goplus/extdep/internal/fetch"
	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/internal/recipe"
	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/internal/run/runtest"
	"github.com/goplus/extdep/internal/vcs"
	"github.com/goplus/extdep/pkgs/buildsys/cmake"
)

const zlibPatch = `diff --git a/CMakeLists.txt b/CMakeLists.txt
--- a/CMakeLists.txt
+++ b/CMakeLists.txt
@@ -1 +1 @@
-project(zlib)
+project(zlib C)
`

type fixture struct {
	root      string
	layout    *env.Layout
	runner    *runtest.Recorder
	downloads atomic.Int32
	server    *httptest.Server
	recipe    *recipe.Recipe
	pipeline  *Pipeline
}

// gitHandler fakes git: clone creates the target directory, rev-parse
// prints a hash. Commands matching fail, either "tool" or "tool sub",
// exit with status 1.
func gitHandler(fail string) runtest.Handler {
	return func(cmd run.Command) (string, int) {
		tool := runtest.Tool(cmd)
		sub := ""
		if len(cmd.Args) > 0 {
			sub = cmd.Args[0]
		}
		if tool+" "+sub == fail || tool == fail {
			return "fatal: failed", 1
		}
		if tool == "git" && sub == "clone" {
			_ = os.MkdirAll(cmd.Args[2], 0o755)
		}
		if tool == "git" && sub == "rev-parse" {
			return "abc123\n", 0
		}
		return "", 0
	}
}

func newFixture(t *testing.T, recipeYAML, fail string) *fixture {
	t.Helper()
	f := &fixture{root: t.TempDir()}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.tar.gz" {
			http.NotFound(w, r)
			return
		}
		f.downloads.Add(1)
		_, _ = w.Write([]byte("archive"))
	}))
	t.Cleanup(f.server.Close)

	recipeDir := filepath.Join(f.root, "recipe")
	if err := os.MkdirAll(filepath.Join(recipeDir, "patches"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(recipeDir, "patches", "zlib.patch"), []byte(zlibPatch), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(recipeDir, "libpng.env"), []byte("PNG_FLAG=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	data := []byte(os.Expand(recipeYAML, func(k string) string {
		if k == "SERVER" {
			return f.server.URL
		}
		return "$" + k
	}))
	r, err := recipe.Parse(data, recipeDir)
	if err != nil {
		t.Fatalf("recipe.Parse: %v", err)
	}
	f.recipe = r

	f.layout, err = env.NewLayout(filepath.Join(f.root, "work"))
	if err != nil {
		t.Fatal(err)
	}
	f.runner = runtest.New(gitHandler(fail))
	environ := func() []string { return []string{"PATH=/usr/bin"} }
	orchestrator, err := cmake.New(platform.Ubuntu, platform.HostLinux,
		cmake.WithRunner(f.runner),
		cmake.WithEnviron(environ),
	)
	if err != nil {
		t.Fatal(err)
	}
	unpack := func(src, dst string) error { return os.MkdirAll(dst, 0o755) }
	f.pipeline = New(f.layout, orchestrator, &config.Record{PlatformName: platform.Ubuntu, ToolVersion: "test"},
		WithVCS(vcs.NewGit(vcs.WithRunner(f.runner))),
		WithUnpacker(fetch.NewUnpacker(fetch.WithUnpack(unpack))),
		WithEnviron(environ),
	)
	return f
}

const twoDeps = `
dependencies:
  - name: zlib
    version: 1.2.11
    source:
      url: ${SERVER}/zlib-1.2.11.tar.gz
    patches: [patches/zlib.patch]
  - name: libpng
    version: 1.6.34
    source:
      git: https://github.com/glennrp/libpng.git
      branch: v1.6.34
    uses: [zlib]
    env_file: libpng.env
    cmake:
      options: -DPNG_TESTS=OFF
`

func findCommand(r *runtest.Recorder, tool string, nth int) (run.Command, bool) {
	for _, c := range r.Commands {
		if runtest.Tool(c) == tool {
			if nth == 0 {
				return c, true
			}
			nth--
		}
	}
	return run.Command{}, false
}

func TestPipelineRun(t *testing.T) {
	f := newFixture(t, twoDeps, "")
	zlibInstall := f.layout.Install(platform.Ubuntu, "zlib-1-2-11")
	if err := os.MkdirAll(filepath.Join(zlibInstall, "include"), 0o755); err != nil {
		t.Fatal(err)
	}

	results, err := f.pipeline.Run(context.Background(), f.recipe)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	zlib, png := results[0], results[1]
	if !zlib.Fetched || zlib.Patched != 1 || zlib.GitHash != "" {
		t.Errorf("zlib result = %+v", zlib)
	}
	if zlib.InstallDir != zlibInstall {
		t.Errorf("zlib installed to %q, want %q", zlib.InstallDir, zlibInstall)
	}
	if !png.Fetched || png.Patched != 0 || png.GitHash != "abc123" {
		t.Errorf("libpng result = %+v", png)
	}
	if got := f.downloads.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(f.layout.Downloads(), "zlib-1.2.11.tar.gz")); err != nil {
		t.Errorf("archive not kept: %v", err)
	}

	if n := f.runner.Count("cmake"); n != 2 {
		t.Errorf("cmake ran %d times, want 2", n)
	}
	if n := f.runner.Count("make"); n != 2 {
		t.Errorf("make ran %d times, want 2", n)
	}
	// apply, clone, rev-parse
	if n := f.runner.Count("git"); n != 3 {
		t.Errorf("git ran %d times, want 3: %v", n, f.runner.Lines())
	}
	apply, _ := findCommand(f.runner, "git", 0)
	if apply.Args[0] != "apply" || apply.Dir != zlib.SourceDir {
		t.Errorf("first git command = %v in %q", apply.Args, apply.Dir)
	}

	pngCMake, _ := findCommand(f.runner, "cmake", 1)
	if !slices.Contains(pngCMake.Args, "-DPNG_TESTS=OFF") {
		t.Errorf("libpng cmake args = %v", pngCMake.Args)
	}
	for _, want := range []string{
		"PNG_FLAG=1",
		"CMAKE_PREFIX_PATH=" + zlibInstall,
		"CPPFLAGS=-I" + filepath.Join(zlibInstall, "include"),
	} {
		if !slices.Contains(pngCMake.Env, want) {
			t.Errorf("libpng environment lacks %q: %v", want, pngCMake.Env)
		}
	}
	zlibCMake, _ := findCommand(f.runner, "cmake", 0)
	if v, _ := run.Lookup(zlibCMake.Env, "PNG_FLAG"); v != "" {
		t.Errorf("env file leaked into zlib: %v", zlibCMake.Env)
	}

	cache, err := loadCache(f.layout.Cache("libpng-1-6-34"))
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := cache.get("Ubuntu-Release")
	if !ok || entry.GitHash != "abc123" || entry.ToolVersion != "test" {
		t.Errorf("cache entry = %+v", entry)
	}
}

func TestPipelineRunTwice(t *testing.T) {
	f := newFixture(t, twoDeps, "")
	ctx := context.Background()
	if _, err := f.pipeline.Run(ctx, f.recipe); err != nil {
		t.Fatal(err)
	}
	f.runner.Commands = nil

	results, err := f.pipeline.Run(ctx, f.recipe)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range results {
		if res.Fetched || res.Patched != 0 {
			t.Errorf("%s fetched again: %+v", res.Name, res)
		}
	}
	if got := f.downloads.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}
	// Only rev-parse, no clone and no apply.
	if n := f.runner.Count("git"); n != 1 {
		t.Errorf("git ran %d times, want 1: %v", n, f.runner.Lines())
	}
	if n := f.runner.Count("cmake"); n != 2 {
		t.Errorf("cmake ran %d times, want 2", n)
	}
}

func TestPipelineSkipsUpToDate(t *testing.T) {
	f := newFixture(t, `
defaults:
  allow_skip: true
dependencies:
  - name: glm
    source: {git: https://github.com/g-truc/glm.git}
`, "")
	ctx := context.Background()
	if _, err := f.pipeline.Run(ctx, f.recipe); err != nil {
		t.Fatal(err)
	}
	// The fake build tools do not install anything.
	if err := os.MkdirAll(f.layout.Install(platform.Ubuntu, "glm"), 0o755); err != nil {
		t.Fatal(err)
	}
	before := len(f.runner.Commands)

	results, err := f.pipeline.Run(ctx, f.recipe)
	if err != nil {
		t.Fatal(err)
	}
	if !results[0].Skipped || results[0].GitHash != "abc123" {
		t.Errorf("result = %+v, want a skipped build", results[0])
	}
	if len(f.runner.Commands) != before {
		t.Errorf("commands ran for an up to date build: %v", f.runner.Lines()[before:])
	}
}

func TestPipelineSkipsExistingInstall(t *testing.T) {
	f := newFixture(t, `
defaults:
  allow_skip: true
dependencies:
  - name: glm
    source: {git: https://github.com/g-truc/glm.git}
`, "")
	install := f.layout.Install(platform.Ubuntu, "glm")
	if err := os.MkdirAll(install, 0o755); err != nil {
		t.Fatal(err)
	}

	results, err := f.pipeline.Run(context.Background(), f.recipe)
	if err != nil {
		t.Fatal(err)
	}
	if !results[0].Skipped || results[0].Fetched || !results[0].BuildTime.IsZero() {
		t.Errorf("result = %+v, want a skipped build", results[0])
	}
	if len(f.runner.Commands) != 0 {
		t.Errorf("commands ran for an installed dependency: %v", f.runner.Lines())
	}
	if _, err := os.Stat(f.layout.Cache("glm")); !os.IsNotExist(err) {
		t.Errorf("build cache written for a build that did not run: %v", err)
	}
}

func TestPipelinePatchFailure(t *testing.T) {
	f := newFixture(t, twoDeps, "git apply")
	results, err := f.pipeline.Run(context.Background(), f.recipe)
	if err == nil {
		t.Fatal("expected an error")
	}
	var toolErr *run.ToolError
	if !errors.As(err, &toolErr) {
		t.Errorf("error %v is not a *run.ToolError", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if _, err := os.Stat(f.layout.Source("zlib-1-2-11")); !os.IsNotExist(err) {
		t.Errorf("patched sources were not removed: %v", err)
	}
	if n := f.runner.Count("cmake"); n != 0 {
		t.Errorf("cmake ran %d times after a failed patch", n)
	}
}

func TestPipelineBuildFailure(t *testing.T) {
	f := newFixture(t, twoDeps, "make")
	results, err := f.pipeline.Run(context.Background(), f.recipe, "zlib")
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if _, err := os.Stat(f.layout.Source("zlib-1-2-11")); err != nil {
		t.Errorf("sources removed after a build failure: %v", err)
	}
	if n := f.runner.Count("git"); n != 1 {
		t.Errorf("libpng was processed: %v", f.runner.Lines())
	}
}

func TestPipelineFetch(t *testing.T) {
	f := newFixture(t, twoDeps, "")
	results, err := f.pipeline.Fetch(context.Background(), f.recipe, "libpng")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want zlib and libpng", len(results))
	}
	if n := f.runner.Count("cmake"); n != 0 {
		t.Errorf("cmake ran %d times during fetch", n)
	}
	if n := f.runner.Count("git"); n != 2 {
		t.Errorf("git ran %d times, want apply and clone: %v", n, f.runner.Lines())
	}
}

func TestPipelineDownloadFailure(t *testing.T) {
	f := newFixture(t, `
dependencies:
  - name: missing
    source: {url: "${SERVER}/missing.tar.gz"}
`, "")
	_, err := f.pipeline.Run(context.Background(), f.recipe)
	var transferErr *fetch.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("error %v is not a *fetch.TransferError", err)
	}
	if transferErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", transferErr.StatusCode)
	}
}

func TestPipelineUnknownDependency(t *testing.T) {
	f := newFixture(t, twoDeps, "")
	if _, err := f.pipeline.Run(context.Background(), f.recipe, "openssl"); err == nil {
		t.Fatal("expected an error for an unknown dependency")
	}
}

func TestPipelineCanceled(t *testing.T) {
	f := newFixture(t, twoDeps, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.pipeline.Run(ctx, f.recipe); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

package cmake

import (
	"path/filepath"
	"strings"

	"github.com/goplus/extdep/internal/fsutil"
	"github.com/goplus/extdep/internal/platform"
	"github.com/goplus/extdep/internal/run"
)

// UseEnv returns a copy of env set up so cmake, pkg-config and the
// compiler find the dependency installed at root.
func (o *Orchestrator) UseEnv(env []string, root string) []string {
	includeDir := filepath.Join(root, "include")
	libDir := filepath.Join(root, "lib")
	pkgconfigDir := filepath.Join(libDir, "pkgconfig")

	sep := ":"
	if o.host == platform.HostWindows {
		sep = ";"
	}
	out := append([]string(nil), env...)
	prepend := func(key, dir string) {
		if fsutil.IsDir(o.fs, dir) {
			out = run.PrependList(out, key, sep, dir)
		}
	}

	prepend("PKG_CONFIG_PATH", pkgconfigDir)
	prepend("CMAKE_PREFIX_PATH", root)
	prepend("CMAKE_INCLUDE_PATH", includeDir)
	prepend("CMAKE_LIBRARY_PATH", libDir)

	if o.host == platform.HostWindows {
		prepend("INCLUDE", includeDir)
		prepend("LIB", libDir)
		return out
	}
	if fsutil.IsDir(o.fs, includeDir) {
		out = appendFlag(out, "CPPFLAGS", "-I"+includeDir)
	}
	if fsutil.IsDir(o.fs, libDir) {
		out = appendFlag(out, "LDFLAGS", "-L"+libDir)
	}
	return out
}

// appendFlag appends a space separated flag to key.
func appendFlag(env []string, key, flag string) []string {
	cur, _ := run.Lookup(env, key)
	val := strings.TrimSpace(cur + " " + flag)
	for i, kv := range env {
		if k, _, ok := strings.Cut(kv, "="); ok && k == key {
			env[i] = key + "=" + val
			return env
		}
	}
	return append(env, key+"="+val)
}

package run

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// WithPathPrepended returns a copy of base where dirs are put in front of
// PATH. base itself is never modified, and neither is the environment of
// the current process.
func WithPathPrepended(base []string, dirs []string) []string {
	return PrependList(base, "PATH", string(os.PathListSeparator), dirs...)
}

// PrependList returns a copy of env where values are prepended to the
// list-style variable key, joined with sep.
func PrependList(env []string, key, sep string, values ...string) []string {
	out := make([]string, len(env))
	copy(out, env)
	if len(values) == 0 {
		return out
	}
	prefix := strings.Join(values, sep)
	for i, kv := range out {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !sameKey(k, key) {
			continue
		}
		if v != "" {
			prefix += sep + v
		}
		out[i] = k + "=" + prefix
		return out
	}
	return append(out, key+"="+prefix)
}

// Merge returns base with override applied, sorted by key.
func Merge(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(override))
	names := make(map[string]string, len(base)+len(override))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[normKey(k)] = v
			names[normKey(k)] = k
		}
	}
	for k, v := range override {
		envMap[normKey(k)] = v
		if _, ok := names[normKey(k)]; !ok {
			names[normKey(k)] = k
		}
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, names[k]+"="+envMap[k])
	}
	return out
}

// Lookup returns the value of key in env.
func Lookup(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && sameKey(k, key) {
			return v, true
		}
	}
	return "", false
}

// Windows environment variable names are case-insensitive ("Path").
func sameKey(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func normKey(k string) string {
	if runtime.GOOS == "windows" {
		return strings.ToUpper(k)
	}
	return k
}

package build

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goplus/extdep/pkgs/buildsys"
)

// buildEntry contains metadata about a single successful build.
type buildEntry struct {
	Version     string    `json:"version,omitempty"`
	Source      string    `json:"source"`
	GitHash     string    `json:"git_hash,omitempty"`
	Patches     []string  `json:"patches,omitempty"`
	Options     []string  `json:"options,omitempty"`
	InstallDir  string    `json:"install_dir"`
	ToolVersion string    `json:"tool_version,omitempty"`
	BuildTime   time.Time `json:"build_time"`
}

// buildCache maps "platform-variants" keys to their build entries.
type buildCache struct {
	Cache map[string]*buildEntry `json:"cache"`
}

func cacheKey(platformName string, variants []buildsys.Variant) string {
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.String()
	}
	return platformName + "-" + strings.Join(names, "+")
}

func (c *buildCache) get(key string) (*buildEntry, bool) {
	entry, ok := c.Cache[key]
	return entry, ok
}

func (c *buildCache) set(key string, entry *buildEntry) {
	if c.Cache == nil {
		c.Cache = make(map[string]*buildEntry)
	}
	c.Cache[key] = entry
}

// loadCache reads the cache file at path. A missing file is an empty
// cache.
func loadCache(path string) (*buildCache, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &buildCache{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cache buildCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

func saveCache(path string, cache *buildCache) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package cmake

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/goplus/extdep/internal/run"
)

// VersionError reports a cmake older than required.
type VersionError struct {
	Have string
	Want string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("cmake %s is too old, at least %s is required", e.Have, e.Want)
}

var versionRe = regexp.MustCompile(`cmake version (\d+(?:\.\d+){0,2})`)

// Version returns the version reported by "cmake --version", e.g. "3.28.1".
func (o *Orchestrator) Version(ctx context.Context) (string, error) {
	out, err := o.runner.CombinedOutput(ctx, run.Command{Name: o.command, Args: []string{"--version"}})
	if err != nil {
		return "", err
	}
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("cmake: unexpected version output %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// CheckVersion fails with *VersionError when the installed cmake is older
// than min. An empty min accepts every version.
func (o *Orchestrator) CheckVersion(ctx context.Context, min string) error {
	if min == "" {
		return nil
	}
	want := canonical(min)
	if !semver.IsValid(want) {
		return fmt.Errorf("cmake: invalid minimum version %q", min)
	}
	have, err := o.Version(ctx)
	if err != nil {
		return err
	}
	if semver.Compare(canonical(have), want) < 0 {
		return &VersionError{Have: have, Want: min}
	}
	return nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// Package platform knows about target platform names and the host the
// tool runs on.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Host is the operating system the builds run on.
type Host int

const (
	HostUnknown Host = iota
	HostWindows
	HostLinux
	HostMacOS
)

func (h Host) String() string {
	switch h {
	case HostWindows:
		return "Windows"
	case HostLinux:
		return "Linux"
	case HostMacOS:
		return "MacOS"
	default:
		return "Unknown"
	}
}

// DetectHost returns the host platform of the running process.
func DetectHost() Host {
	return hostFromGOOS(runtime.GOOS)
}

func hostFromGOOS(goos string) Host {
	switch goos {
	case "windows":
		return HostWindows
	case "linux", "android":
		return HostLinux
	case "darwin":
		return HostMacOS
	default:
		return HostUnknown
	}
}

// Target platform names.
const (
	Android    = "Android"
	Emscripten = "Emscripten"
	FreeRTOS   = "FreeRTOS"
	QNX        = "QNX"
	Ubuntu     = "Ubuntu"
	Windows    = "Windows"
	Yocto      = "Yocto"
)

var names = []string{Android, Emscripten, FreeRTOS, QNX, Ubuntu, Windows, Yocto}

// Names returns all known platform names.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Canonical returns the known spelling of name, matched case-insensitively.
func Canonical(name string) (string, error) {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q (known: %s)", name, strings.Join(names, ", "))
}

// Default returns the platform name matching the host.
func Default(h Host) string {
	if h == HostWindows {
		return Windows
	}
	return Ubuntu
}

// ExecutableName returns the file name of the executable name on host h.
func ExecutableName(name string, h Host) string {
	if h == HostWindows && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

// ExecutableNameFor returns the file name of the executable name when
// building for the given platform.
func ExecutableNameFor(name, platformName string) string {
	if strings.EqualFold(platformName, Windows) {
		return ExecutableName(name, HostWindows)
	}
	return name
}

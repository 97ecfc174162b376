package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/pkgs/buildsys"
	"github.com/goplus/extdep/pkgs/buildsys/cmake"
)

var (
	configurePrefix  string
	configureDefines []string
)

var configureCmd = &cobra.Command{
	Use:   "configure <source> <build-dir>",
	Short: "Run the cmake configure step only",
	Long: `Configure runs cmake for the source directory in build-dir with the generator of
the target platform. Nothing is built.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configurePrefix, "prefix", "", "install prefix (default <build-dir>/install)")
	configureCmd.Flags().StringArrayVarP(&configureDefines, "define", "D", nil, "cmake cache entry KEY[:TYPE]=VALUE")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args)
	if err != nil {
		return err
	}
	source, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	buildDir, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	prefix := configurePrefix
	if prefix == "" {
		prefix = filepath.Join(buildDir, "install")
	}
	defines, err := parseDefines(configureDefines)
	if err != nil {
		return err
	}
	for _, kv := range configureDefines {
		k, v, _ := strings.Cut(kv, "=")
		s.record.UserSetVariables[k] = v
	}

	o, err := s.orchestrator(cmd.Context(), newRunner(), cmake.WithBuilder(buildsys.Dummy{}))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return err
	}
	options := append(defines.Args(), o.PlatformArgs()...)
	s.record.BuildArgs = options
	env := run.WithPathPrepended(os.Environ(), s.tools.SearchPaths())
	variant := s.record.ActiveVariant
	return o.RunCMake(cmd.Context(), buildDir, source, prefix, options, env, &variant)
}

// parseDefines parses KEY[:TYPE]=VALUE cache entries.
func parseDefines(list []string) (*cmake.Defines, error) {
	var d cmake.Defines
	for _, kv := range list {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid define %q, want KEY[:TYPE]=VALUE", kv)
		}
		name, typeName, _ := strings.Cut(key, ":")
		switch strings.ToUpper(typeName) {
		case "":
			d.SetUntyped(name, value)
		case "STRING":
			d.Set(name, value)
		case "PATH":
			d.SetPath(name, value)
		case "BOOL":
			on, err := parseBool(value)
			if err != nil {
				return nil, fmt.Errorf("define %s: %w", name, err)
			}
			d.SetBool(name, on)
		default:
			d.SetUntyped(key, value)
		}
	}
	return &d, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "ON", "YES", "TRUE", "Y", "1":
		return true, nil
	case "OFF", "NO", "FALSE", "N", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a cmake boolean", s)
}

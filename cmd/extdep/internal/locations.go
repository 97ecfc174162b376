package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/goplus/extdep/internal/descriptor"
)

var locationsCmd = &cobra.Command{
	Use:   "locations <toolconfig.xml>...",
	Short: "List the package locations of XML tool configurations",
	Long: `Locations reads the tool configurations, merges package configurations with the
same name and prints their locations with environment variables expanded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLocations,
}

func init() {
	rootCmd.AddCommand(locationsCmd)
}

func runLocations(cmd *cobra.Command, args []string) error {
	tc, err := descriptor.LoadToolConfigs(args...)
	if err != nil {
		return err
	}
	return printLocations(cmd.OutOrStdout(), tc, os.Environ())
}

func printLocations(w io.Writer, tc *descriptor.ToolConfig, environ []string) error {
	for _, p := range tc.Packages {
		preload := ""
		if p.Preload {
			preload = " (preload)"
		}
		fmt.Fprintf(w, "%s%s\n", p.Name, preload)
		for _, l := range p.Locations {
			path, err := l.Expand(environ)
			if err != nil {
				return fmt.Errorf("%s: %w", p.SourceFile, err)
			}
			fmt.Fprintf(w, "  %s [%s]\n", path, l.ScanMethod)
		}
	}
	if tc.CMake != nil {
		fmt.Fprintf(w, "cmake: build dir %s, ninja recipe %s", tc.CMake.DefaultBuildDir, tc.CMake.NinjaRecipe)
		if tc.CMake.MinVersion != "" {
			fmt.Fprintf(w, ", min version %s", tc.CMake.MinVersion)
		}
		fmt.Fprintln(w)
	}
	return nil
}

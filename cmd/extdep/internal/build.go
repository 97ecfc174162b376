package internal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goplus/extdep/internal/build"
	"github.com/goplus/extdep/internal/recipe"
	"github.com/goplus/extdep/internal/run"
	"github.com/goplus/extdep/internal/vcs"
	"github.com/goplus/extdep/pkgs/buildsys/cmake"
)

var buildInstallDir string

var buildCmd = &cobra.Command{
	Use:   "build <recipe> [dependency...]",
	Short: "Fetch, patch and build the dependencies of a recipe",
	Long: `Build fetches the sources of every dependency in the recipe, applies its
patches and builds and installs it with CMake. Naming dependencies limits the
build to them and the dependencies they use.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildInstallDir, "install-dir", "", "install every dependency below this directory")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, args)
	if err != nil {
		return err
	}
	r, err := recipe.Load(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	runner := newRunner()
	o, err := s.orchestrator(ctx, runner)
	if err != nil {
		return err
	}
	results, err := s.pipeline(o, runner).Run(ctx, r, args[1:]...)
	printResults(cmd.OutOrStdout(), results)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}

func (s *session) git(runner run.Runner) *vcs.Git {
	opts := []vcs.GitOption{
		vcs.WithRunner(runner),
		vcs.WithLogger(s.log),
		vcs.WithVerbose(s.cfg.Verbosity > 0),
	}
	if exe, err := s.tools.Executable("git"); err == nil {
		opts = append(opts, vcs.WithGitPath(exe))
	}
	return vcs.NewGit(opts...)
}

// pipeline returns the build pipeline of the session. o may be nil when
// only fetching.
func (s *session) pipeline(o *cmake.Orchestrator, runner run.Runner) *build.Pipeline {
	installRoot := s.cfg.InstallDir
	if buildInstallDir != "" {
		installRoot = buildInstallDir
	}
	return build.New(s.layout, o, s.record,
		build.WithLogger(s.log),
		build.WithTools(s.tools),
		build.WithVCS(s.git(runner)),
		build.WithInstallRoot(installRoot),
	)
}

func printResults(w io.Writer, results []build.Result) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tREVISION\tLOCATION")
	for _, res := range results {
		location := res.InstallDir
		if location == "" {
			location = res.SourceDir
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Name, orDash(res.Version), status(res), orDash(res.GitHash), location)
	}
	tw.Flush()
}

func status(res build.Result) string {
	switch {
	case res.Skipped:
		return "up to date"
	case res.InstallDir == "" && res.Fetched:
		return "fetched"
	case res.InstallDir == "":
		return "present"
	case res.Fetched:
		return "fetched, built"
	default:
		return "built"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package internal

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/goplus/extdep/internal/recipe"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <recipe> [dependency...]",
	Short: "Download or clone and patch dependency sources",
	Long:  `Fetch acquires the sources of the recipe dependencies and applies their patches without building them.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
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

	results, err := s.pipeline(nil, newRunner()).Fetch(ctx, r, args[1:]...)
	printResults(cmd.OutOrStdout(), results)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	return nil
}

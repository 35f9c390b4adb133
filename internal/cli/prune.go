package cli

import (
	"time"

	"github.com/spf13/cobra"

	"trade-guardian/internal/app"
)

var (
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old transition audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PruneOptions{
			OlderThan: pruneOlderThan,
			DryRun:    pruneDryRun,
		}
		return getApp().Prune(cmd.Context(), opts)
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Retention window; entries older than this are deleted")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Count matching entries without deleting")
}

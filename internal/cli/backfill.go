package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spread-sync/internal/app"
)

var (
	backfillRequest requestFlags
	backfillDryRun  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical integrations month by month",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := backfillRequest.options(cmd)
		if err != nil {
			return err
		}
		if req.From == nil || req.To == nil {
			return fmt.Errorf("--from and --to must be provided")
		}
		if !req.From.Before(*req.To) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.BackfillOptions{
			RequestOptions: req,
			DryRun:         backfillDryRun,
			Workers:        backfillWorkers,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillRequest.register(backfillCmd)
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of months integrated concurrently")
}

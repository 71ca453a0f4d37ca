package cli

import (
	"github.com/spf13/cobra"

	"spread-sync/internal/app"
)

var (
	integrateRequest   requestFlags
	integrateOutDir    string
	integrateFormats   []string
	integrateMaxPoints int
	integrateNoStore   bool
)

var integrateCmd = &cobra.Command{
	Use:   "integrate",
	Short: "Merge real and synthetic spread data for one request",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := integrateRequest.options(cmd)
		if err != nil {
			return err
		}
		return getApp().Integrate(cmd.Context(), app.IntegrateOptions{
			RequestOptions: req,
			OutDir:         integrateOutDir,
			Formats:        integrateFormats,
			MaxPoints:      integrateMaxPoints,
			NoStore:        integrateNoStore,
		})
	},
}

func init() {
	integrateRequest.register(integrateCmd)
	integrateCmd.Flags().StringVar(&integrateOutDir, "out", "", "Export directory (defaults to config)")
	integrateCmd.Flags().StringSliceVar(&integrateFormats, "format", nil, "Export formats: csv, png, parquet")
	integrateCmd.Flags().IntVar(&integrateMaxPoints, "max-points", 0, "Maximum chart points (defaults to config)")
	integrateCmd.Flags().BoolVar(&integrateNoStore, "no-store", false, "Do not persist the run")
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spread-sync/internal/app"
)

var (
	exportRunID     string
	exportOutDir    string
	exportFormats   []string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored run as CSV, PNG chart and/or Parquet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportRunID == "" {
			return fmt.Errorf("--run must be provided")
		}
		return getApp().Export(cmd.Context(), app.ExportOptions{
			RunID:     exportRunID,
			OutDir:    exportOutDir,
			Formats:   exportFormats,
			MaxPoints: exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "Run id to export")
	exportCmd.Flags().StringVar(&exportOutDir, "out", "", "Export directory (defaults to config)")
	exportCmd.Flags().StringSliceVar(&exportFormats, "format", nil, "Export formats: csv, png, parquet (defaults to config)")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to chart (defaults to config)")
}

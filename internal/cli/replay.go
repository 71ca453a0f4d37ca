package cli

import (
	"github.com/spf13/cobra"

	"spread-sync/internal/app"
)

var (
	replayRequest requestFlags
	replayDir     string
	replayOutDir  string
	replayFormats []string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "使用录制的 fixture 数据回放一次整合",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := replayRequest.options(cmd)
		if err != nil {
			return err
		}
		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			RequestOptions: req,
			Dir:            replayDir,
			OutDir:         replayOutDir,
			Formats:        replayFormats,
		})
	},
}

func init() {
	replayRequest.register(replayCmd)
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "fixture 目录，包含 real.json 与 synthetic.json")
	replayCmd.Flags().StringVar(&replayOutDir, "out", "", "导出目录")
	replayCmd.Flags().StringSliceVar(&replayFormats, "format", nil, "导出格式: csv, png, parquet")
}

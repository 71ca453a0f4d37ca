package cli

import (
	"github.com/spf13/cobra"
)

var runRequest requestFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily integration service",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := runRequest.options(cmd)
		if err != nil {
			return err
		}
		return getApp().Run(cmd.Context(), req)
	},
}

func init() {
	runRequest.register(runCmd)
}

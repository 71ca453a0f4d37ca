package cli

import (
	"github.com/spf13/cobra"
)

var periodsRequest requestFlags

var periodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "Print the relative periods and aligned windows of a request",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := periodsRequest.options(cmd)
		if err != nil {
			return err
		}
		return getApp().Periods(req)
	},
}

func init() {
	periodsRequest.register(periodsCmd)
}

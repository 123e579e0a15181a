package cli

import (
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Re-send the latest run summary through the configured notifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().NotifyLatest(cmd.Context())
	},
}

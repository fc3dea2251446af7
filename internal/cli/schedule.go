package cli

import (
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the daily call plan for the configured budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Schedule(cmd.Context())
	},
}

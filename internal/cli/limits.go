package cli

import (
	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show API key usage and remaining monthly credits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Limits(cmd.Context())
	},
}

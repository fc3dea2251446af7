package cli

import (
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <token>",
	Short: "Resolve a ticker, name, or slug to an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Resolve(cmd.Context(), args[0])
	},
}

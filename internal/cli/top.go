package cli

import (
	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the highest-ranked assets by market cap",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Top(cmd.Context(), app.TopOptions{Limit: topLimit})
	},
}

func init() {
	topCmd.Flags().IntVar(&topLimit, "limit", 10, "Number of assets to print")
}

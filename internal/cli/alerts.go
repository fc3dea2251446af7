package cli

import (
	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var alertsLimit int

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recently fired alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Alerts(cmd.Context(), app.AlertsOptions{Limit: alertsLimit})
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of fired alerts to print")
}

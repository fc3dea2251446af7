package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var (
	simulateSymbol    string
	simulatePrevious  float64
	simulateCurrent   float64
	simulateThreshold float64
	simulateDirection string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one polling cycle against synthetic prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}
		if simulatePrevious <= 0 || simulateCurrent <= 0 || simulateThreshold <= 0 {
			return errors.New("--previous, --current, and --threshold must be greater than 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:    simulateSymbol,
			Previous:  decimal.NewFromFloat(simulatePrevious),
			Current:   decimal.NewFromFloat(simulateCurrent),
			Threshold: decimal.NewFromFloat(simulateThreshold),
			Direction: simulateDirection,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Asset ticker")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Synthetic price for the first observation")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Synthetic price for the second observation")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "Alert threshold")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", ">", "Crossing direction: \">\" or \"<\"")
}

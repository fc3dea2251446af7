package cli

import (
	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var (
	exportSymbol     string
	exportDays       int
	exportVsCurrency string
	exportPNGPath    string
	exportCSVPath    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a historical price series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Symbol:     exportSymbol,
			Days:       exportDays,
			VsCurrency: exportVsCurrency,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Asset ticker to export (required)")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "Number of days of history")
	exportCmd.Flags().StringVar(&exportVsCurrency, "vs", "", "Quote currency (defaults to config)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}

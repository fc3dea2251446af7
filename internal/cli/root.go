package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "pricewatch",
	Short: "Quota-aware crypto price polling and alerting",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(limitsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

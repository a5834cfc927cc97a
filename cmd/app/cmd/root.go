// Package cmd holds the finband command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"FinBand/pkg/config"
)

const defaultConfigPath = "config/config.yaml"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "finband",
	Short: "Quantile price-band forecaster",
	Long: `finband fits penalised quantile regressions on indicator-annotated price
series, walk-forward backtests them and publishes forward price bands.

Commands:
    serve       HTTP API and Kafka request consumer
    forecast    one-shot forecast for a symbol
    backtest    one-shot backtest with calibration scorecard
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(backtestCmd)
}

// initConfig loads the YAML config plus .env and environment overrides. The
// default path is optional; an explicit --config must exist.
func initConfig(cmd *cobra.Command) error {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	c, err := config.LoadWithEnv(path)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	cfg = c
	return nil
}

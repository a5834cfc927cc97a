package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"FinBand/internal/di"
	"FinBand/internal/domain/models"
	"FinBand/internal/usecase"
)

var (
	forecastFlags runFlags
	forecastOut   string
	liveOnly      bool
	asContext     bool
	publish       bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Run one forecast and print the report as JSON",
	Example: `  finband forecast -s AAPL --horizon 6 --window 20
  finband forecast -s BTC-USD --live --out btc.json
  finband forecast -s MSFT --context`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req, err := forecastFlags.request(ctx, cmd)
		if err != nil {
			return err
		}

		uc, cleanup, err := di.InitializeEngine(cfg)
		if err != nil {
			return fmt.Errorf("engine initialization failed: %w", err)
		}
		defer cleanup()

		out, closeOut, err := openOutput(cmd, forecastOut)
		if err != nil {
			return err
		}
		defer closeOut()

		p := usecase.ParamsFromRequest(req)
		if asContext {
			text, err := uc.Context(ctx, p)
			if err != nil {
				return err
			}
			_, err = io.WriteString(out, text)
			return err
		}

		var r *models.ForecastReport
		if liveOnly {
			r, err = uc.Live(ctx, p)
		} else {
			r, err = uc.Forecast(ctx, p)
		}
		if err != nil {
			return err
		}
		if publish {
			if err := uc.Publish(ctx, r); err != nil {
				return err
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	},
}

func init() {
	forecastFlags.register(forecastCmd)
	fs := forecastCmd.Flags()
	fs.StringVarP(&forecastOut, "out", "o", "", "write output to this file instead of stdout")
	fs.BoolVar(&liveOnly, "live", false, "skip the backtest")
	fs.BoolVar(&asContext, "context", false, "print the plain-text report context")
	fs.BoolVar(&publish, "publish", false, "send the report to the configured backend")
	forecastCmd.MarkFlagsMutuallyExclusive("live", "context")
}

// openOutput returns stdout or the named file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

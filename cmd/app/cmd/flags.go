package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"FinBand/internal/domain/models"
	xhttp "FinBand/pkg/http"
)

// runFlags are the per-run overrides shared by forecast and backtest. Unset
// flags fall back to the config file.
type runFlags struct {
	symbol  string
	tf      string
	n       int
	horizon int
	window  int
	alpha   float64
	cadence string
	repair  bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.symbol, "symbol", "s", "", "ticker symbol (required)")
	fs.StringVar(&f.tf, "tf", "", "bar timeframe: 1h, 4h or 1d")
	fs.IntVarP(&f.n, "n", "n", 0, "number of most recent bars to load")
	fs.IntVar(&f.horizon, "horizon", 0, "forecast horizon in bars")
	fs.IntVar(&f.window, "window", 0, "walk-forward backtest rows")
	fs.Float64Var(&f.alpha, "alpha", 0, "L1 penalty")
	fs.StringVar(&f.cadence, "cadence", "", "retrain cadence: every_step or once")
	fs.BoolVar(&f.repair, "repair", false, "sort crossed quantiles into monotone order")
	_ = cmd.MarkFlagRequired("symbol")
}

// request merges the config defaults with the flags the user set and
// validates the result like an HTTP request.
func (f *runFlags) request(ctx context.Context, cmd *cobra.Command) (models.ForecastRequest, error) {
	fs := cmd.Flags()
	req := models.ForecastRequest{
		Symbol:  f.symbol,
		TF:      cfg.Source.Timeframe,
		N:       cfg.Source.Limit,
		Horizon: cfg.Forecast.Horizon,
		Window:  cfg.Forecast.Window,
		Alpha:   cfg.Forecast.Alpha,
		Cadence: cfg.Forecast.Cadence,
		Repair:  cfg.Forecast.RepairCrossing,
	}
	if fs.Changed("tf") {
		req.TF = f.tf
	}
	if fs.Changed("n") {
		req.N = f.n
	}
	if fs.Changed("horizon") {
		req.Horizon = f.horizon
	}
	if fs.Changed("window") {
		req.Window = f.window
	}
	if fs.Changed("alpha") {
		req.Alpha = f.alpha
	}
	if fs.Changed("cadence") {
		req.Cadence = f.cadence
	}
	if fs.Changed("repair") {
		req.Repair = f.repair
	}

	if verrs := xhttp.PrepareAndValidate(ctx, &req); len(verrs) > 0 {
		return req, fmt.Errorf("%w: %s", models.ErrInvalidParameter, verrs[0].Message)
	}
	return req, nil
}

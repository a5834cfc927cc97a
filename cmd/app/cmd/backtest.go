package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"FinBand/internal/di"
	"FinBand/internal/domain/models"
	"FinBand/internal/usecase"
)

var (
	backtestFlags runFlags
	backtestOut   string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Walk-forward backtest a symbol and print the calibration scorecard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req, err := backtestFlags.request(ctx, cmd)
		if err != nil {
			return err
		}

		uc, cleanup, err := di.InitializeEngine(cfg)
		if err != nil {
			return fmt.Errorf("engine initialization failed: %w", err)
		}
		defer cleanup()

		r, err := uc.Forecast(ctx, usecase.ParamsFromRequest(req))
		if err != nil {
			return err
		}

		out, closeOut, err := openOutput(cmd, backtestOut)
		if err != nil {
			return err
		}
		defer closeOut()
		return writeScorecard(out, r)
	},
}

func init() {
	backtestFlags.register(backtestCmd)
	backtestCmd.Flags().StringVarP(&backtestOut, "out", "o", "", "write output to this file instead of stdout")
}

func writeScorecard(w io.Writer, r *models.ForecastReport) error {
	if r.Backtest == nil || r.Scorecard == nil {
		return fmt.Errorf("report for %s has no backtest", r.Symbol)
	}
	fmt.Fprintf(w, "%s %s: %d rows, horizon %d, cadence %s (%s), solver %s\n\n",
		r.Symbol, r.Timeframe, r.Scorecard.Rows, r.Params.Horizon,
		r.Backtest.Cadence, r.Backtest.Causality, r.Params.Solver)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tTARGET\tHIT RATE\tPINBALL")
	for _, ls := range r.Scorecard.Levels {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.4f\n", ls.Level, ls.Target, ls.HitRate, ls.PinballLoss)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "BAND\tNOMINAL\tCONTAINMENT\t")
	for _, bs := range r.Scorecard.Bands {
		fmt.Fprintf(tw, "%s-%s\t%.2f\t%.3f\t\n", bs.Pair.Lower, bs.Pair.Upper, bs.Nominal, bs.Containment)
	}
	return tw.Flush()
}

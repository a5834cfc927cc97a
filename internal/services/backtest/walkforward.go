package backtest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"FinBand/internal/domain/models"
	"FinBand/internal/services/quantile"
)

// Params configures a walk-forward run.
type Params struct {
	Window  int
	Horizon int
	Alpha   float64
	Levels  []models.QuantileLevel
	Cadence models.Cadence
	// Workers bounds concurrent retrain steps; <= 1 runs steps in order.
	Workers int
	Fitter  quantile.Fitter
}

// Run evaluates the last Window observations out of sample.
//
// Under RetrainEveryStep the model predicting row i is trained on rows
// [0, i) only. Under RetrainOnce a single model trained on the rows before
// the window predicts every window row; the result is labelled approximate.
func Run(ctx context.Context, obs *models.ObservationSet, p Params) (*models.BacktestResult, error) {
	n := obs.Len()
	if p.Window <= 0 || p.Window >= n {
		need := p.Window + 1
		if need < 2 {
			need = 2
		}
		return nil, &models.InsufficientDataError{Op: "backtest", Need: need, Have: n}
	}
	cadence, err := models.ParseCadence(string(p.Cadence))
	if err != nil {
		return nil, err
	}
	levels := p.Levels
	if len(levels) == 0 {
		levels = models.DefaultLevels
	}
	fitter := p.Fitter
	if fitter == nil {
		fitter = quantile.BankFitter{}
	}

	start := n - p.Window
	rows := make([]models.BacktestRow, p.Window)

	switch cadence {
	case models.RetrainOnce:
		model, err := fitter.Fit(ctx, obs.Head(start), levels, p.Alpha)
		if err != nil {
			return nil, fmt.Errorf("backtest fit on %d rows: %w", start, err)
		}
		for i := start; i < n; i++ {
			rows[i-start] = row(obs.At(i), model)
		}
	default:
		g, gctx := errgroup.WithContext(ctx)
		workers := p.Workers
		if workers < 1 {
			workers = 1
		}
		g.SetLimit(workers)
		for i := start; i < n; i++ {
			if gctx.Err() != nil {
				break
			}
			i := i
			g.Go(func() error {
				model, err := fitter.Fit(gctx, obs.Head(i), levels, p.Alpha)
				if err != nil {
					return fmt.Errorf("backtest step %d: %w", i, err)
				}
				rows[i-start] = row(obs.At(i), model)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return &models.BacktestResult{
		Cadence:   cadence,
		Causality: cadence.Causality(),
		Window:    p.Window,
		Horizon:   p.Horizon,
		Levels:    append([]models.QuantileLevel(nil), levels...),
		Rows:      rows,
	}, nil
}

func row(o models.Observation, model quantile.Predictor) models.BacktestRow {
	return models.BacktestRow{
		Timestamp:  o.Timestamp,
		Forecast:   model.Predict(o.Features),
		ActualHigh: o.Target.High,
		ActualLow:  o.Target.Low,
		ActualMid:  o.Target.Mid,
		Close:      o.Close,
	}
}

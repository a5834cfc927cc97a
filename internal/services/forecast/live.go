package forecast

import (
	"context"
	"fmt"

	"FinBand/internal/domain/models"
	"FinBand/internal/services/quantile"
)

type Params struct {
	Horizon int
	Alpha   float64
	Levels  []models.QuantileLevel
	Fitter  quantile.Fitter
}

// Live retrains on every observation, the backtest window included, and
// predicts from the most recent one.
func Live(ctx context.Context, obs *models.ObservationSet, p Params) (*models.LiveForecast, error) {
	last, ok := obs.Last()
	if !ok {
		return nil, &models.InsufficientDataError{Op: "live forecast", Need: 1, Have: 0}
	}
	levels := p.Levels
	if len(levels) == 0 {
		levels = models.DefaultLevels
	}
	fitter := p.Fitter
	if fitter == nil {
		fitter = quantile.BankFitter{}
	}

	model, err := fitter.Fit(ctx, obs, levels, p.Alpha)
	if err != nil {
		return nil, fmt.Errorf("live fit on %d rows: %w", obs.Len(), err)
	}

	horizon := p.Horizon
	if horizon == 0 {
		horizon = obs.Horizon()
	}
	out := &models.LiveForecast{
		AsOf:     last.Timestamp,
		Horizon:  horizon,
		Close:    last.Close,
		Forecast: model.Predict(last.Features),
	}
	if mr, ok := model.(quantile.MethodReporter); ok {
		out.Methods = mr.Methods()
	}
	return out, nil
}

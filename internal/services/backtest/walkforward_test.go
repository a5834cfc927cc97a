package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinBand/internal/domain/models"
	"FinBand/internal/services/features"
	"FinBand/internal/services/quantile"
	"FinBand/internal/testutil"
)

type constPredictor models.Forecast

func (p constPredictor) Predict([]float64) models.Forecast { return models.Forecast(p).Clone() }

// spyFitter records every training slice and predicts its length, so each
// row's forecast reveals how many rows trained it.
type spyFitter struct {
	mu    sync.Mutex
	sizes []int
	last  []models.Observation
}

func (s *spyFitter) Fit(_ context.Context, train *models.ObservationSet, levels []models.QuantileLevel, _ float64) (quantile.Predictor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, train.Len())
	if last, ok := train.Last(); ok {
		s.last = append(s.last, last)
	}
	f := models.Forecast{}
	for _, q := range levels {
		f[q] = float64(train.Len())
	}
	return constPredictor(f), nil
}

func linearObs(t *testing.T) *models.ObservationSet {
	obs, err := features.Build(testutil.Linear(30, 1), 6, nil)
	require.NoError(t, err)
	require.Equal(t, 24, obs.Len())
	return obs
}

func TestRunWindowBoundaries(t *testing.T) {
	obs := linearObs(t)
	spy := &spyFitter{}

	for _, w := range []int{0, -1, 24, 25} {
		_, err := Run(context.Background(), obs, Params{Window: w, Fitter: spy})
		assert.ErrorIs(t, err, models.ErrInsufficientData, "window %d", w)
	}

	res, err := Run(context.Background(), obs, Params{Window: 23, Fitter: spy})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 23)
}

func TestRunEveryStepIsCausal(t *testing.T) {
	obs := linearObs(t)
	spy := &spyFitter{}

	res, err := Run(context.Background(), obs, Params{Window: 10, Horizon: 6, Cadence: models.RetrainEveryStep, Fitter: spy})
	require.NoError(t, err)
	require.Len(t, res.Rows, 10)
	assert.Equal(t, models.RetrainEveryStep, res.Cadence)
	assert.Equal(t, "strict", res.Causality)

	for k, r := range res.Rows {
		i := 14 + k
		assert.Equal(t, obs.At(i).Timestamp, r.Timestamp)
		// trained on exactly the i rows before the evaluated row
		trained := int(r.Forecast[0.5])
		assert.Equal(t, i, trained)
		assert.True(t, obs.At(trained-1).Timestamp.Before(r.Timestamp))
		assert.Equal(t, obs.At(i).Target.High, r.ActualHigh)
		assert.Equal(t, obs.At(i).Target.Low, r.ActualLow)
	}
	for k := 1; k < len(res.Rows); k++ {
		assert.True(t, res.Rows[k-1].Timestamp.Before(res.Rows[k].Timestamp))
	}
	assert.ElementsMatch(t, []int{14, 15, 16, 17, 18, 19, 20, 21, 22, 23}, spy.sizes)
}

func TestRunParallelStepsKeepOrder(t *testing.T) {
	obs := linearObs(t)

	seq, err := Run(context.Background(), obs, Params{Window: 12, Fitter: &spyFitter{}})
	require.NoError(t, err)
	par, err := Run(context.Background(), obs, Params{Window: 12, Workers: 4, Fitter: &spyFitter{}})
	require.NoError(t, err)
	assert.Equal(t, seq.Rows, par.Rows)
}

func TestRunOnceTrainsBeforeWindow(t *testing.T) {
	obs := linearObs(t)
	spy := &spyFitter{}

	res, err := Run(context.Background(), obs, Params{Window: 10, Cadence: models.RetrainOnce, Fitter: spy})
	require.NoError(t, err)
	assert.Equal(t, []int{14}, spy.sizes)
	assert.Equal(t, "approximate", res.Causality)
	require.Len(t, res.Rows, 10)
	for _, r := range res.Rows {
		assert.Equal(t, 14.0, r.Forecast[0.05])
		assert.True(t, spy.last[0].Timestamp.Before(r.Timestamp))
	}
}

func TestRunPropagatesFitErrors(t *testing.T) {
	obs := linearObs(t)
	boom := &models.NoFeasibleSolutionError{Level: 0.05, Err: errors.New("unbounded")}
	fitter := quantile.FitterFunc(func(context.Context, *models.ObservationSet, []models.QuantileLevel, float64) (quantile.Predictor, error) {
		return nil, boom
	})

	_, err := Run(context.Background(), obs, Params{Window: 5, Fitter: fitter})
	assert.ErrorIs(t, err, models.ErrNoFeasibleSolution)

	_, err = Run(context.Background(), obs, Params{Window: 5, Cadence: models.RetrainOnce, Fitter: fitter})
	assert.ErrorIs(t, err, models.ErrNoFeasibleSolution)
}

func TestRunRejectsUnknownCadence(t *testing.T) {
	_, err := Run(context.Background(), linearObs(t), Params{Window: 5, Cadence: "hourly", Fitter: &spyFitter{}})
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestRunConstantSeriesWithRealSolver(t *testing.T) {
	obs, err := features.Build(testutil.Constant(40, 77), 6, nil)
	require.NoError(t, err)

	res, err := Run(context.Background(), obs, Params{
		Window: 5,
		Alpha:  0.01,
		Levels: models.DefaultLevels,
		Fitter: quantile.BankFitter{Options: []quantile.Option{quantile.WithSolver(&quantile.SimplexSolver{})}},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 5)
	for _, r := range res.Rows {
		require.Len(t, r.Forecast, len(models.DefaultLevels))
		for q, v := range r.Forecast {
			assert.InDelta(t, 77, v, 1e-4, "level %s", q)
		}
	}
}

func TestScore(t *testing.T) {
	res := &models.BacktestResult{
		Levels: []models.QuantileLevel{0.05, 0.5, 0.95},
		Rows: []models.BacktestRow{
			{Forecast: models.Forecast{0.05: 9, 0.5: 10, 0.95: 12}, ActualLow: 9.5, ActualMid: 10.5, ActualHigh: 11},
			{Forecast: models.Forecast{0.05: 9, 0.5: 10, 0.95: 12}, ActualLow: 8, ActualMid: 9.5, ActualHigh: 13},
		},
	}
	card := Score(res, []models.BandPair{{Lower: 0.05, Upper: 0.95}})

	assert.Equal(t, 2, card.Rows)
	require.Len(t, card.Levels, 3)

	low := card.Levels[0]
	assert.Equal(t, "future_low", low.Target)
	assert.InDelta(t, 0.5, low.HitRate, 1e-12)
	// (0.05*0.5 + 0.95*1) / 2
	assert.InDelta(t, 0.4875, low.PinballLoss, 1e-12)

	mid := card.Levels[1]
	assert.Equal(t, "future_mid", mid.Target)
	assert.InDelta(t, 0.5, mid.HitRate, 1e-12)

	require.Len(t, card.Bands, 1)
	assert.InDelta(t, 0.9, card.Bands[0].Nominal, 1e-12)
	assert.InDelta(t, 0.5, card.Bands[0].Containment, 1e-12)
}

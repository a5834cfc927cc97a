package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	"FinBand/internal/services/quantile"
	"FinBand/internal/testutil"
	"FinBand/pkg/cache"
)

// empiricalSolver fits an intercept-only model at the sample quantile.
type empiricalSolver struct{}

func (empiricalSolver) Name() string { return "empirical" }

func (empiricalSolver) Solve(_ context.Context, p quantile.Problem) (quantile.Solution, error) {
	width := 0
	if len(p.X) > 0 {
		width = len(p.X[0])
	}
	return quantile.Solution{
		Intercept: quantile.EmpiricalQuantile(p.Y, p.Q),
		Coef:      make([]float64, width),
		Method:    "empirical",
	}, nil
}

type fakeStore struct {
	series *models.Series
	err    error
	gate   chan struct{}
	calls  atomic.Int32
}

func (s *fakeStore) LoadSeries(ctx context.Context, _ string, _ domrepo.Timeframe, _ int) (*models.Series, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.series, nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*models.ForecastReport
	err     error
}

func (s *recordingSink) Save(_ context.Context, r *models.ForecastReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) saved() []*models.ForecastReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ForecastReport(nil), s.reports...)
}

type countingMetrics struct {
	mu        sync.Mutex
	fits      int
	errors    map[string]int
	hits      int
	misses    int
	forecasts map[string]float64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: map[string]int{}, forecasts: map[string]float64{}}
}

func (m *countingMetrics) RecordFit(string, string, string, float64) {
	m.mu.Lock()
	m.fits++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordRun(string, string, float64) {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordForecast(symbol, level string, price float64) {
	m.mu.Lock()
	m.forecasts[symbol+"/"+level] = price
	m.mu.Unlock()
}

func (m *countingMetrics) RecordCache(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

func newTestUseCase(store domrepo.SeriesStore, sink domrepo.ResultSink, rc domrepo.ReportCache, m domrepo.Metrics) *ForecastUseCase {
	return NewForecastUseCase(store, sink, rc, m, nil, EngineConfig{
		Solver:   empiricalSolver{},
		Timeout:  10 * time.Second,
		CacheTTL: time.Minute,
		LockTTL:  2 * time.Second,
	})
}

func fullParams() ForecastParams {
	return ForecastParams{
		Symbol:    "TEST",
		Timeframe: domrepo.TF4h,
		Horizon:   6,
		Window:    10,
		Alpha:     0.01,
	}
}

func TestForecast_FullReport(t *testing.T) {
	store := &fakeStore{series: testutil.RandomWalk(80, 1)}
	m := newCountingMetrics()
	uc := newTestUseCase(store, nil, nil, m)

	r, err := uc.Forecast(context.Background(), fullParams())
	require.NoError(t, err)

	assert.Equal(t, "TEST", r.Symbol)
	assert.Equal(t, "4h", r.Timeframe)
	assert.Equal(t, "empirical", r.Params.Solver)
	assert.Equal(t, models.RetrainEveryStep, r.Params.Cadence)
	assert.Equal(t, models.DefaultLevels, r.Params.Levels)

	require.NotNil(t, r.Live)
	assert.Len(t, r.Live.Forecast, len(models.DefaultLevels))
	assert.False(t, r.Live.Forecast.Crossed())

	require.NotNil(t, r.Backtest)
	assert.Len(t, r.Backtest.Rows, 10)
	assert.Equal(t, "strict", r.Backtest.Causality)

	require.NotNil(t, r.Scorecard)
	assert.Equal(t, 10, r.Scorecard.Rows)
	assert.Len(t, r.Scorecard.Levels, len(models.DefaultLevels))
	assert.Len(t, r.Scorecard.Bands, len(models.DefaultBandPairs))

	require.NotNil(t, r.Bands)
	require.Len(t, r.Bands.Forward, len(models.DefaultBandPairs))
	require.Len(t, r.Bands.Historical, len(models.DefaultBandPairs))
	fwd := r.Bands.Forward[0]
	require.Len(t, fwd.Timestamps, 6)
	assert.Equal(t, r.Live.AsOf.Add(4*time.Hour), fwd.Timestamps[0])
	assert.Equal(t, r.Live.AsOf.Add(24*time.Hour), fwd.Timestamps[5])
	for k := range fwd.Lower {
		assert.LessOrEqual(t, fwd.Lower[k], fwd.Upper[k])
	}

	assert.Equal(t, 1, int(store.calls.Load()))
	assert.Positive(t, m.fits)
	assert.Contains(t, m.forecasts, "TEST/"+models.QuantileLevel(0.5).String())
}

func TestForecast_UsesCacheOnSecondCall(t *testing.T) {
	store := &fakeStore{series: testutil.RandomWalk(80, 2)}
	m := newCountingMetrics()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	uc := newTestUseCase(store, nil, mc, m)

	first, err := uc.Forecast(context.Background(), fullParams())
	require.NoError(t, err)
	second, err := uc.Forecast(context.Background(), fullParams())
	require.NoError(t, err)

	assert.Equal(t, 1, int(store.calls.Load()))
	assert.Equal(t, 1, m.hits)
	assert.Equal(t, first.Live.Forecast, second.Live.Forecast)
	assert.Len(t, second.Backtest.Rows, len(first.Backtest.Rows))

	// different parameters are a different entry
	p := fullParams()
	p.Horizon = 3
	_, err = uc.Forecast(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, int(store.calls.Load()))
}

func TestForecast_ConcurrentCallsShareOneRun(t *testing.T) {
	store := &fakeStore{series: testutil.RandomWalk(80, 3), gate: make(chan struct{})}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	uc := newTestUseCase(store, nil, mc, nil)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Forecast(context.Background(), fullParams())
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, int(store.calls.Load()))
}

func TestForecast_CancelledCallerDoesNotFailSharedRun(t *testing.T) {
	store := &fakeStore{series: testutil.RandomWalk(80, 5), gate: make(chan struct{})}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	uc := newTestUseCase(store, nil, mc, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := uc.Forecast(firstCtx, fullParams())
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondDone := make(chan struct{})
	var (
		second    *models.ForecastReport
		secondErr error
	)
	go func() {
		defer close(secondDone)
		second, secondErr = uc.Forecast(context.Background(), fullParams())
	}()

	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(store.gate)
	<-secondDone
	require.NoError(t, secondErr)
	require.NotNil(t, second)
	assert.Equal(t, "TEST", second.Symbol)
	assert.Equal(t, 1, int(store.calls.Load()))
}

func TestForecast_WaitsForReportLockedElsewhere(t *testing.T) {
	store := &fakeStore{series: testutil.RandomWalk(80, 4)}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	uc := newTestUseCase(store, nil, mc, nil)
	ctx := context.Background()

	p := fullParams()
	require.NoError(t, uc.normalize(&p, true))
	key := p.cacheKey("full")
	locked, err := mc.TryLock(ctx, cache.LockKey(key), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	want := &models.ForecastReport{Symbol: "TEST", Timeframe: "4h", Live: &models.LiveForecast{Horizon: 6}}
	go func() {
		time.Sleep(100 * time.Millisecond)
		b, _ := json.Marshal(want)
		_ = mc.Set(ctx, key, b, time.Minute)
	}()

	r, err := uc.Forecast(ctx, fullParams())
	require.NoError(t, err)
	assert.Equal(t, 6, r.Live.Horizon)
	assert.Nil(t, r.Backtest)
	assert.Zero(t, store.calls.Load())
}

func TestLive_SkipsBacktest(t *testing.T) {
	store := &fakeStore{series: testutil.Linear(60, 100)}
	uc := newTestUseCase(store, nil, nil, nil)

	r, err := uc.Live(context.Background(), ForecastParams{Symbol: "TEST", Timeframe: domrepo.TF1h, Horizon: 4, Window: 500})
	require.NoError(t, err)

	assert.Nil(t, r.Backtest)
	assert.Nil(t, r.Scorecard)
	assert.Empty(t, r.Bands.Historical)
	require.Len(t, r.Bands.Forward, len(models.DefaultBandPairs))
	assert.Equal(t, r.Live.AsOf.Add(time.Hour), r.Bands.Forward[0].Timestamps[0])
	assert.Zero(t, r.Params.Window)
}

func TestForecast_Errors(t *testing.T) {
	tests := []struct {
		name   string
		store  *fakeStore
		params func(p *ForecastParams)
		target error
		kind   string
	}{
		{
			name:   "missing symbol",
			store:  &fakeStore{series: testutil.Linear(60, 1)},
			params: func(p *ForecastParams) { p.Symbol = "" },
			target: models.ErrInvalidParameter,
		},
		{
			name:   "bad cadence",
			store:  &fakeStore{series: testutil.Linear(60, 1)},
			params: func(p *ForecastParams) { p.Cadence = "hourly" },
			target: models.ErrInvalidParameter,
		},
		{
			name:   "unknown symbol",
			store:  &fakeStore{err: domrepo.ErrSeriesNotFound},
			params: func(*ForecastParams) {},
			target: domrepo.ErrSeriesNotFound,
			kind:   "load",
		},
		{
			name: "missing column",
			store: func() *fakeStore {
				s := testutil.Linear(60, 1)
				delete(s.Columns, models.ColRSI14)
				return &fakeStore{series: s}
			}(),
			params: func(*ForecastParams) {},
			target: models.ErrMissingColumn,
			kind:   "features",
		},
		{
			name:   "window too large",
			store:  &fakeStore{series: testutil.Linear(30, 1)},
			params: func(p *ForecastParams) { p.Window = 500 },
			target: models.ErrInsufficientData,
			kind:   "insufficient_data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newCountingMetrics()
			uc := newTestUseCase(tt.store, nil, nil, m)
			p := fullParams()
			tt.params(&p)

			_, err := uc.Forecast(context.Background(), p)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			if tt.kind != "" {
				assert.Equal(t, 1, m.errors[tt.kind])
			}
		})
	}
}

func TestPublish(t *testing.T) {
	sink := &recordingSink{}
	m := newCountingMetrics()
	uc := newTestUseCase(&fakeStore{}, sink, nil, m)
	r := &models.ForecastReport{Symbol: "AAA"}

	require.NoError(t, uc.Publish(context.Background(), r))
	require.Len(t, sink.saved(), 1)
	assert.Same(t, r, sink.saved()[0])

	sink.err = errors.New("broker down")
	err := uc.Publish(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish AAA")
	assert.Equal(t, 1, m.errors["sink"])

	noSink := newTestUseCase(&fakeStore{}, nil, nil, nil)
	assert.NoError(t, noSink.Publish(context.Background(), r))
}

func TestContext_RendersSummaryAndForecast(t *testing.T) {
	store := &fakeStore{series: testutil.RandomWalk(80, 5)}
	uc := newTestUseCase(store, nil, nil, nil)

	text, err := uc.Context(context.Background(), fullParams())
	require.NoError(t, err)
	assert.Contains(t, text, "Stock Data Summary for TEST")
	assert.Contains(t, text, "Quantile Forecast (next 6 periods")
	assert.Contains(t, text, "Backtest (10 periods, strict walk-forward)")
}

func TestPairsWithin(t *testing.T) {
	levels := []models.QuantileLevel{0.05, 0.25, 0.5, 0.75, 0.95}
	got := pairsWithin(nil, levels)
	assert.Equal(t, []models.BandPair{{Lower: 0.05, Upper: 0.95}, {Lower: 0.25, Upper: 0.75}}, got)

	assert.Empty(t, pairsWithin(nil, []models.QuantileLevel{0.5}))
}

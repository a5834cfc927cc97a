package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	"FinBand/internal/services/backtest"
	"FinBand/internal/services/bands"
	"FinBand/internal/services/features"
	"FinBand/internal/services/forecast"
	"FinBand/internal/services/quantile"
	"FinBand/internal/services/report"
	"FinBand/pkg/cache"
	"FinBand/pkg/logger"
	pkgmetrics "FinBand/pkg/metrics"
)

// EngineConfig carries the run settings that do not vary per request.
type EngineConfig struct {
	Features    []string
	Levels      []models.QuantileLevel
	BandPairs   []models.BandPair
	Solver      quantile.Solver
	Sequential  bool
	StepWorkers int
	Step        time.Duration
	Timeout     time.Duration
	CacheTTL    time.Duration
	LockTTL     time.Duration
}

// ForecastParams are the per-request knobs.
type ForecastParams struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	N         int
	Horizon   int
	Window    int
	Alpha     float64
	Cadence   models.Cadence
	Repair    bool
}

// ParamsFromRequest maps a validated request onto ForecastParams.
func ParamsFromRequest(req models.ForecastRequest) ForecastParams {
	return ForecastParams{
		Symbol:    req.Symbol,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		N:         req.N,
		Horizon:   req.Horizon,
		Window:    req.Window,
		Alpha:     req.Alpha,
		Cadence:   models.Cadence(req.Cadence),
		Repair:    req.Repair,
	}
}

// LiveParamsFromRequest maps a live-only request; Window and Cadence are unused.
func LiveParamsFromRequest(req models.LiveRequest) ForecastParams {
	return ForecastParams{
		Symbol:    req.Symbol,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		N:         req.N,
		Horizon:   req.Horizon,
		Alpha:     req.Alpha,
		Repair:    req.Repair,
	}
}

func (p ForecastParams) cacheKey(kind string) string {
	desc := fmt.Sprintf("%s|%s|%d|%d|%d|%g|%s|%t", p.Symbol, p.Timeframe, p.N, p.Horizon, p.Window, p.Alpha, p.Cadence, p.Repair)
	return cache.GenerateKey("report", kind, p.Symbol, cache.HashKey(desc))
}

// ForecastUseCase loads a series, runs the walk-forward backtest and the live
// forecast, and assembles bands and calibration into a report.
type ForecastUseCase struct {
	store   domrepo.SeriesStore
	sink    domrepo.ResultSink
	cache   domrepo.ReportCache
	metrics domrepo.Metrics
	log     *logger.Logger
	cfg     EngineConfig
	group   singleflight.Group
	now     func() time.Time
}

// NewForecastUseCase wires the use case. sink and rc may be nil.
func NewForecastUseCase(store domrepo.SeriesStore, sink domrepo.ResultSink, rc domrepo.ReportCache, metrics domrepo.Metrics, log *logger.Logger, cfg EngineConfig) *ForecastUseCase {
	if len(cfg.Levels) == 0 {
		cfg.Levels = append([]models.QuantileLevel(nil), models.DefaultLevels...)
	}
	if len(cfg.Features) == 0 {
		cfg.Features = models.DefaultFeatureNames
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Timeout
	}
	cfg.BandPairs = pairsWithin(cfg.BandPairs, cfg.Levels)
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &ForecastUseCase{
		store:   store,
		sink:    sink,
		cache:   rc,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Forecast returns the full report (live, backtest, scorecard, bands).
// Identical concurrent calls share one computation; finished reports are
// cached for CacheTTL.
func (uc *ForecastUseCase) Forecast(ctx context.Context, p ForecastParams) (*models.ForecastReport, error) {
	return uc.cached(ctx, p, "full", true)
}

// Live returns the live forecast and forward bands without a backtest.
func (uc *ForecastUseCase) Live(ctx context.Context, p ForecastParams) (*models.ForecastReport, error) {
	return uc.cached(ctx, p, "live", false)
}

// Context renders the numeric report context for a full forecast.
func (uc *ForecastUseCase) Context(ctx context.Context, p ForecastParams) (string, error) {
	r, err := uc.Forecast(ctx, p)
	if err != nil {
		return "", err
	}
	return report.BuildContext(ctx, r, uc.SeriesSource(p.N))
}

// SeriesSource adapts the store for report context rendering.
func (uc *ForecastUseCase) SeriesSource(limit int) report.SeriesSource {
	return func(ctx context.Context, r *models.ForecastReport) (*models.Series, error) {
		return uc.store.LoadSeries(ctx, r.Symbol, domrepo.NormalizeTimeframe(r.Timeframe), limit)
	}
}

// Publish hands a finished report to the configured sink.
func (uc *ForecastUseCase) Publish(ctx context.Context, r *models.ForecastReport) error {
	if uc.sink == nil || r == nil {
		return nil
	}
	if err := uc.sink.Save(ctx, r); err != nil {
		uc.metrics.RecordError("sink")
		return fmt.Errorf("publish %s: %w", r.Symbol, err)
	}
	return nil
}

func (uc *ForecastUseCase) cached(ctx context.Context, p ForecastParams, kind string, withBacktest bool) (*models.ForecastReport, error) {
	if err := uc.normalize(&p, withBacktest); err != nil {
		return nil, err
	}
	key := p.cacheKey(kind)

	if r, ok := uc.fromCache(ctx, key); ok {
		return r, nil
	}

	// the flight outlives any single caller; run bounds it with cfg.Timeout
	fctx := context.WithoutCancel(ctx)
	ch := uc.group.DoChan(key, func() (interface{}, error) {
		ctx := fctx
		if uc.cache != nil {
			// a previous flight may have filled the cache since the check above
			if r, ok := uc.peekCache(ctx, key); ok {
				return r, nil
			}
			locked, lerr := uc.cache.TryLock(ctx, cache.LockKey(key), uc.cfg.LockTTL)
			switch {
			case lerr != nil:
				uc.log.Warn("report lock failed", logger.String("key", key), logger.Error(lerr))
			case !locked:
				// another instance is computing the same report
				if r, ok := uc.awaitCache(ctx, key); ok {
					return r, nil
				}
			default:
				defer func() {
					if uerr := uc.cache.Unlock(context.WithoutCancel(ctx), cache.LockKey(key)); uerr != nil {
						uc.log.Warn("report unlock failed", logger.String("key", key), logger.Error(uerr))
					}
				}()
			}
		}

		r, err := uc.run(ctx, p, withBacktest)
		if err != nil {
			return nil, err
		}
		uc.toCache(ctx, key, r)
		return r, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			uc.log.Debug("report computation shared", logger.String("key", key))
		}
		return res.Val.(*models.ForecastReport), nil
	}
}

func (uc *ForecastUseCase) normalize(p *ForecastParams, withBacktest bool) error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", models.ErrInvalidParameter)
	}
	if p.Timeframe == "" {
		p.Timeframe = domrepo.DefaultTimeframe()
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		return fmt.Errorf("%w: timeframe %q", models.ErrInvalidParameter, p.Timeframe)
	}
	if p.Horizon < 1 {
		return fmt.Errorf("%w: horizon must be >= 1", models.ErrInvalidParameter)
	}
	if p.Alpha < 0 {
		return fmt.Errorf("%w: alpha must be >= 0", models.ErrInvalidParameter)
	}
	if !withBacktest {
		p.Window, p.Cadence = 0, ""
		return nil
	}
	cadence, err := models.ParseCadence(string(p.Cadence))
	if err != nil {
		return err
	}
	p.Cadence = cadence
	return nil
}

func (uc *ForecastUseCase) run(ctx context.Context, p ForecastParams, withBacktest bool) (*models.ForecastReport, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.Timeout)
	defer cancel()
	start := uc.now()

	series, err := uc.store.LoadSeries(ctx, p.Symbol, p.Timeframe, p.N)
	if err != nil {
		uc.metrics.RecordError("load")
		return nil, fmt.Errorf("load %s %s: %w", p.Symbol, p.Timeframe, err)
	}
	obs, err := features.Build(series, p.Horizon, uc.cfg.Features)
	if err != nil {
		uc.metrics.RecordError("features")
		return nil, fmt.Errorf("build observations for %s: %w", p.Symbol, err)
	}

	fitter := uc.fitter()
	var (
		bt   *models.BacktestResult
		live *models.LiveForecast
	)
	g, gctx := errgroup.WithContext(ctx)
	if withBacktest {
		g.Go(func() error {
			t0 := time.Now()
			res, err := backtest.Run(gctx, obs, backtest.Params{
				Window:  p.Window,
				Horizon: p.Horizon,
				Alpha:   p.Alpha,
				Levels:  uc.cfg.Levels,
				Cadence: p.Cadence,
				Workers: uc.cfg.StepWorkers,
				Fitter:  fitter,
			})
			if err != nil {
				return err
			}
			uc.metrics.RecordRun("backtest", string(p.Cadence), time.Since(t0).Seconds())
			bt = res
			return nil
		})
	}
	g.Go(func() error {
		t0 := time.Now()
		res, err := forecast.Live(gctx, obs, forecast.Params{
			Horizon: p.Horizon,
			Alpha:   p.Alpha,
			Levels:  uc.cfg.Levels,
			Fitter:  fitter,
		})
		if err != nil {
			return err
		}
		uc.metrics.RecordRun("live", "", time.Since(t0).Seconds())
		live = res
		return nil
	})
	if err := g.Wait(); err != nil {
		uc.metrics.RecordError(errorKind(err))
		return nil, fmt.Errorf("forecast %s: %w", p.Symbol, err)
	}

	if p.Repair {
		live.Forecast = quantile.Repair(live.Forecast)
		if bt != nil {
			for i := range bt.Rows {
				bt.Rows[i].Forecast = quantile.Repair(bt.Rows[i].Forecast)
			}
		}
	}

	step := uc.cfg.Step
	if step <= 0 && bt == nil {
		step = p.Timeframe.Duration()
	}
	bandSet := &models.BandSet{}
	if len(uc.cfg.BandPairs) > 0 {
		if bandSet, err = bands.Assemble(bt, live, p.Horizon, step, uc.cfg.BandPairs); err != nil {
			return nil, fmt.Errorf("bands for %s: %w", p.Symbol, err)
		}
	}

	r := &models.ForecastReport{
		Symbol:       p.Symbol,
		Timeframe:    string(p.Timeframe),
		GeneratedAt:  uc.now().UTC(),
		Observations: obs.Len(),
		Params: models.RunParams{
			Horizon:  p.Horizon,
			Window:   p.Window,
			Alpha:    p.Alpha,
			Cadence:  p.Cadence,
			Solver:   uc.solverName(),
			Levels:   uc.cfg.Levels,
			Repaired: p.Repair,
		},
		Live:     live,
		Backtest: bt,
		Bands:    bandSet,
	}
	if bt != nil {
		sc := backtest.Score(bt, uc.cfg.BandPairs)
		r.Scorecard = &sc
	}

	for q, v := range live.Forecast {
		uc.metrics.RecordForecast(p.Symbol, q.String(), v)
	}
	elapsed := uc.now().Sub(start)
	uc.metrics.RecordRun("report", string(p.Cadence), elapsed.Seconds())
	uc.log.Info("forecast ready",
		logger.String("symbol", p.Symbol),
		logger.String("tf", string(p.Timeframe)),
		logger.Int("observations", obs.Len()),
		logger.Bool("backtest", bt != nil),
		logger.Bool("crossed", live.Forecast.Crossed()),
		logger.Duration("duration_ms", elapsed),
	)
	return r, nil
}

func (uc *ForecastUseCase) fitter() quantile.Fitter {
	opts := []quantile.Option{
		quantile.WithSolver(uc.cfg.Solver),
		quantile.WithObserver(func(level models.QuantileLevel, method string, took time.Duration, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			uc.metrics.RecordFit(level.String(), method, result, took.Seconds())
		}),
	}
	if uc.cfg.Sequential {
		opts = append(opts, quantile.WithSequential())
	}
	return quantile.BankFitter{Options: opts}
}

func (uc *ForecastUseCase) solverName() string {
	if uc.cfg.Solver == nil {
		return quantile.SolverAuto
	}
	return uc.cfg.Solver.Name()
}

func (uc *ForecastUseCase) fromCache(ctx context.Context, key string) (*models.ForecastReport, bool) {
	if uc.cache == nil {
		return nil, false
	}
	b, err := uc.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			uc.log.Warn("report cache get failed", logger.String("key", key), logger.Error(err))
		}
		uc.metrics.RecordCache(false)
		return nil, false
	}
	var r models.ForecastReport
	if err := json.Unmarshal(b, &r); err != nil {
		uc.log.Warn("report cache entry unreadable", logger.String("key", key), logger.Error(err))
		uc.metrics.RecordCache(false)
		return nil, false
	}
	uc.metrics.RecordCache(true)
	return &r, true
}

func (uc *ForecastUseCase) toCache(ctx context.Context, key string, r *models.ForecastReport) {
	if uc.cache == nil || uc.cfg.CacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(r)
	if err != nil {
		uc.log.Warn("report encode failed", logger.String("key", key), logger.Error(err))
		return
	}
	if err := uc.cache.Set(ctx, key, b, uc.cfg.CacheTTL); err != nil {
		uc.log.Warn("report cache set failed", logger.String("key", key), logger.Error(err))
	}
}

// awaitCache polls for a report another instance is producing, giving up
// after LockTTL.
func (uc *ForecastUseCase) awaitCache(ctx context.Context, key string) (*models.ForecastReport, bool) {
	deadline := time.NewTimer(uc.cfg.LockTTL)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-tick.C:
			if r, ok := uc.peekCache(ctx, key); ok {
				return r, true
			}
		}
	}
}

func (uc *ForecastUseCase) peekCache(ctx context.Context, key string) (*models.ForecastReport, bool) {
	b, err := uc.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var r models.ForecastReport
	if json.Unmarshal(b, &r) != nil {
		return nil, false
	}
	return &r, true
}

// pairsWithin keeps the band pairs whose levels are all configured.
func pairsWithin(pairs []models.BandPair, levels []models.QuantileLevel) []models.BandPair {
	if len(pairs) == 0 {
		pairs = models.DefaultBandPairs
	}
	have := make(map[models.QuantileLevel]bool, len(levels))
	for _, q := range levels {
		have[q] = true
	}
	out := make([]models.BandPair, 0, len(pairs))
	for _, bp := range pairs {
		if have[bp.Lower] && have[bp.Upper] {
			out = append(out, bp)
		}
	}
	return out
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, models.ErrNoFeasibleSolution):
		return "no_feasible_solution"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "fit"
	}
}

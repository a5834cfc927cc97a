package quantile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinBand/internal/domain/models"
)

// Model is a fitted linear predictor for one quantile level.
type Model struct {
	Level     models.QuantileLevel
	Target    models.TargetKind
	Intercept float64
	Coef      []float64
	Method    string
	Rows      int
}

// Predict applies the model to one feature vector.
func (m *Model) Predict(features []float64) float64 {
	return predict(m.Intercept, m.Coef, features)
}

// FitObserver is notified after every level fit.
type FitObserver func(level models.QuantileLevel, method string, took time.Duration, err error)

type fitConfig struct {
	solver     Solver
	sequential bool
	abort      bool
	observer   FitObserver
}

// Option configures Fit.
type Option func(*fitConfig)

// WithSolver sets the solver; the default is the auto solver.
func WithSolver(s Solver) Option {
	return func(c *fitConfig) {
		if s != nil {
			c.solver = s
		}
	}
}

// WithSequential fits levels one after another instead of concurrently.
func WithSequential() Option {
	return func(c *fitConfig) { c.sequential = true }
}

// WithAbortOnFailure stops fitting the remaining levels after the first
// failure.
func WithAbortOnFailure(abort bool) Option {
	return func(c *fitConfig) { c.abort = abort }
}

// WithObserver registers a per-level callback, e.g. for metrics.
func WithObserver(fn FitObserver) Option {
	return func(c *fitConfig) { c.observer = fn }
}

// Bank holds one independent model per quantile level.
type Bank struct {
	levels []models.QuantileLevel
	models map[models.QuantileLevel]*Model
	failed map[models.QuantileLevel]error
}

// Fit trains one model per level on train. Level failures are collected as
// *models.NoFeasibleSolutionError values and joined into the returned error;
// the bank still holds every level that did fit.
func Fit(ctx context.Context, train *models.ObservationSet, levels []models.QuantileLevel, alpha float64, opts ...Option) (*Bank, error) {
	cfg := fitConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.solver == nil {
		cfg.solver, _ = NewSolver(SolverAuto, SolverOptions{})
	}
	if train.Len() == 0 {
		return nil, &models.InsufficientDataError{Op: "fit", Need: 1, Have: 0}
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: no quantile levels", models.ErrInvalidParameter)
	}
	if alpha < 0 {
		return nil, fmt.Errorf("%w: alpha must be >= 0, got %v", models.ErrInvalidParameter, alpha)
	}
	for _, q := range levels {
		if !q.Valid() {
			return nil, fmt.Errorf("%w: quantile level %v outside (0,1)", models.ErrInvalidParameter, q)
		}
	}

	x, targets := design(train)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		level models.QuantileLevel
		model *Model
		err   error
	}

	fitOne := func(q models.QuantileLevel) result {
		start := time.Now()
		kind := q.Target()
		sol, err := cfg.solver.Solve(ctx, Problem{X: x, Y: targets[kind], Q: float64(q), Alpha: alpha})
		if cfg.observer != nil {
			cfg.observer(q, sol.Method, time.Since(start), err)
		}
		if err != nil {
			if cfg.abort {
				cancel()
			}
			return result{level: q, err: &models.NoFeasibleSolutionError{Level: q, Err: err}}
		}
		return result{level: q, model: &Model{
			Level:     q,
			Target:    kind,
			Intercept: sol.Intercept,
			Coef:      sol.Coef,
			Method:    sol.Method,
			Rows:      train.Len(),
		}}
	}

	results := make(chan result, len(levels))
	if cfg.sequential {
		for _, q := range levels {
			r := fitOne(q)
			results <- r
			if r.err != nil && cfg.abort {
				break
			}
		}
	} else {
		var wg sync.WaitGroup
		for _, q := range levels {
			wg.Add(1)
			go func(q models.QuantileLevel) {
				defer wg.Done()
				results <- fitOne(q)
			}(q)
		}
		wg.Wait()
	}
	close(results)

	bank := &Bank{
		levels: append([]models.QuantileLevel(nil), levels...),
		models: make(map[models.QuantileLevel]*Model, len(levels)),
		failed: map[models.QuantileLevel]error{},
	}
	var errs []error
	for r := range results {
		if r.err != nil {
			bank.failed[r.level] = r.err
			errs = append(errs, r.err)
			continue
		}
		bank.models[r.level] = r.model
	}
	if err := context.Cause(ctx); err != nil && len(errs) == 0 {
		return bank, err
	}
	return bank, errors.Join(errs...)
}

// design copies the feature matrix once and extracts every target column.
func design(train *models.ObservationSet) ([][]float64, map[models.TargetKind][]float64) {
	n := train.Len()
	x := make([][]float64, n)
	targets := map[models.TargetKind][]float64{
		models.TargetLow:  make([]float64, n),
		models.TargetMid:  make([]float64, n),
		models.TargetHigh: make([]float64, n),
	}
	train.Each(func(i int, o models.Observation) {
		x[i] = o.Features
		targets[models.TargetLow][i] = o.Target.Low
		targets[models.TargetMid][i] = o.Target.Mid
		targets[models.TargetHigh][i] = o.Target.High
	})
	return x, targets
}

// Predict evaluates every fitted level on one feature vector.
func (b *Bank) Predict(features []float64) models.Forecast {
	out := make(models.Forecast, len(b.models))
	for q, m := range b.models {
		out[q] = m.Predict(features)
	}
	return out
}

// Model returns the fitted model for q.
func (b *Bank) Model(q models.QuantileLevel) (*Model, bool) {
	m, ok := b.models[q]
	return m, ok
}

// Levels returns the requested levels in request order.
func (b *Bank) Levels() []models.QuantileLevel {
	return append([]models.QuantileLevel(nil), b.levels...)
}

// Methods returns the solver method used for every fitted level.
func (b *Bank) Methods() map[models.QuantileLevel]string {
	out := make(map[models.QuantileLevel]string, len(b.models))
	for q, m := range b.models {
		out[q] = m.Method
	}
	return out
}

// Failed returns the per-level errors of the fit.
func (b *Bank) Failed() map[models.QuantileLevel]error {
	out := make(map[models.QuantileLevel]error, len(b.failed))
	for k, v := range b.failed {
		out[k] = v
	}
	return out
}

// Predictor is anything that maps a feature vector to a per-level forecast.
type Predictor interface {
	Predict(features []float64) models.Forecast
}

// MethodReporter is implemented by predictors that know which solver fitted
// each level.
type MethodReporter interface {
	Methods() map[models.QuantileLevel]string
}

// Fitter trains a Predictor on a training slice.
type Fitter interface {
	Fit(ctx context.Context, train *models.ObservationSet, levels []models.QuantileLevel, alpha float64) (Predictor, error)
}

// FitterFunc adapts a function to Fitter.
type FitterFunc func(ctx context.Context, train *models.ObservationSet, levels []models.QuantileLevel, alpha float64) (Predictor, error)

func (f FitterFunc) Fit(ctx context.Context, train *models.ObservationSet, levels []models.QuantileLevel, alpha float64) (Predictor, error) {
	return f(ctx, train, levels, alpha)
}

// BankFitter fits a Bank and treats any level failure as fatal, so callers
// never see a forecast with silently missing levels.
type BankFitter struct {
	Options []Option
}

func (f BankFitter) Fit(ctx context.Context, train *models.ObservationSet, levels []models.QuantileLevel, alpha float64) (Predictor, error) {
	bank, err := Fit(ctx, train, levels, alpha, append([]Option{WithAbortOnFailure(true)}, f.Options...)...)
	if err != nil {
		return nil, err
	}
	return bank, nil
}

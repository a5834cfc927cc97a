package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	fitDuration *prometheus.HistogramVec
	fitsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	forecast    *prometheus.GaugeVec
	cacheTotal  *prometheus.CounterVec
}

// New registers the forecasting metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		fitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finband_fit_duration_seconds",
				Help:    "Duration of a single quantile fit",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"level", "solver"},
		),
		fitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finband_fits_total",
				Help: "Quantile fits by outcome",
			},
			[]string{"level", "solver", "result"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finband_run_duration_seconds",
				Help:    "Duration of backtest, live and full report runs",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind", "cadence"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finband_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		forecast: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finband_live_forecast",
				Help: "Latest live forecast per symbol and quantile level",
			},
			[]string{"symbol", "level"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finband_report_cache_total",
				Help: "Report cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// RecordFit records one solver invocation.
func (r *Recorder) RecordFit(level, solver, result string, seconds float64) {
	r.fitsTotal.WithLabelValues(level, solver, result).Inc()
	r.fitDuration.WithLabelValues(level, solver).Observe(seconds)
}

func (r *Recorder) RecordRun(kind, cadence string, seconds float64) {
	r.runDuration.WithLabelValues(kind, cadence).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordForecast(symbol, level string, price float64) {
	r.forecast.WithLabelValues(symbol, level).Set(price)
}

func (r *Recorder) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheTotal.WithLabelValues(result).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordFit(string, string, string, float64) {}
func (Nop) RecordRun(string, string, float64)         {}
func (Nop) RecordError(string)                        {}
func (Nop) RecordForecast(string, string, float64)    {}
func (Nop) RecordCache(bool)                          {}

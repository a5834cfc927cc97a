package models

import (
	"fmt"
	"time"
)

// Cadence selects how often the backtester retrains.
type Cadence string

const (
	// RetrainEveryStep trains a fresh bank on every row strictly before each
	// evaluation row. Strictly causal.
	RetrainEveryStep Cadence = "every_step"
	// RetrainOnce trains a single bank on the rows before the evaluation tail.
	// Cheaper, reported as approximate.
	RetrainOnce Cadence = "once"
)

func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case "", RetrainEveryStep:
		return RetrainEveryStep, nil
	case RetrainOnce:
		return RetrainOnce, nil
	default:
		return "", fmt.Errorf("%w: unknown cadence %q", ErrInvalidParameter, s)
	}
}

// Causality labels the walk-forward guarantee a cadence provides.
func (c Cadence) Causality() string {
	if c == RetrainOnce {
		return "approximate"
	}
	return "strict"
}

// BacktestRow is one out-of-sample prediction with its realised targets.
type BacktestRow struct {
	Timestamp  time.Time `json:"timestamp"`
	Forecast   Forecast  `json:"forecast"`
	ActualHigh float64   `json:"actual_high"`
	ActualLow  float64   `json:"actual_low"`
	ActualMid  float64   `json:"actual_mid"`
	Close      float64   `json:"close"`
}

// Actual returns the realised target bound to kind.
func (r BacktestRow) Actual(kind TargetKind) float64 {
	return Targets{High: r.ActualHigh, Low: r.ActualLow, Mid: r.ActualMid}.For(kind)
}

type BacktestResult struct {
	Cadence   Cadence         `json:"cadence"`
	Causality string          `json:"causality"`
	Window    int             `json:"window"`
	Horizon   int             `json:"horizon"`
	Levels    []QuantileLevel `json:"levels"`
	Rows      []BacktestRow   `json:"rows"`
}

func (r *BacktestResult) Timestamps() []time.Time {
	out := make([]time.Time, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Timestamp
	}
	return out
}

// LiveForecast is the forward prediction made from the last observation.
type LiveForecast struct {
	AsOf     time.Time `json:"as_of"`
	Horizon  int       `json:"horizon"`
	Close    float64   `json:"close"`
	Forecast Forecast  `json:"forecast"`
	// Methods names the solver that fitted each level ("simplex" or "mm").
	Methods map[QuantileLevel]string `json:"methods,omitempty"`
}

// BandPair is a symmetric lower/upper level pair.
type BandPair struct {
	Lower QuantileLevel `json:"lower"`
	Upper QuantileLevel `json:"upper"`
}

// Nominal returns the pair's nominal coverage, e.g. 0.90 for (0.05, 0.95).
func (p BandPair) Nominal() float64 { return float64(p.Upper - p.Lower) }

// DefaultBandPairs are drawn outermost first.
var DefaultBandPairs = []BandPair{
	{Lower: 0.05, Upper: 0.95},
	{Lower: 0.15, Upper: 0.85},
	{Lower: 0.25, Upper: 0.75},
}

type Band struct {
	Pair       BandPair    `json:"pair"`
	Coverage   float64     `json:"coverage"`
	Timestamps []time.Time `json:"timestamps"`
	Lower      []float64   `json:"lower"`
	Upper      []float64   `json:"upper"`
}

// BandSet carries the historical (backtest-aligned) and forward bands.
type BandSet struct {
	Historical []Band `json:"historical,omitempty"`
	Forward    []Band `json:"forward"`
}

type LevelScore struct {
	Level       QuantileLevel `json:"level"`
	Target      string        `json:"target"`
	PinballLoss float64       `json:"pinball_loss"`
	HitRate     float64       `json:"hit_rate"`
}

type BandScore struct {
	Pair        BandPair `json:"pair"`
	Nominal     float64  `json:"nominal"`
	Containment float64  `json:"containment"`
}

// Scorecard summarises backtest calibration.
type Scorecard struct {
	Rows   int          `json:"rows"`
	Levels []LevelScore `json:"levels"`
	Bands  []BandScore  `json:"bands"`
}

// RunParams records the parameters a report was produced with.
type RunParams struct {
	Horizon  int             `json:"horizon"`
	Window   int             `json:"window"`
	Alpha    float64         `json:"alpha"`
	Cadence  Cadence         `json:"cadence"`
	Solver   string          `json:"solver"` // configured; see LiveForecast.Methods
	Levels   []QuantileLevel `json:"levels"`
	Repaired bool            `json:"repaired"`
}

// ForecastReport is the full result of one forecasting run.
type ForecastReport struct {
	Symbol       string          `json:"symbol"`
	Timeframe    string          `json:"timeframe"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Observations int             `json:"observations"`
	Params       RunParams       `json:"params"`
	Live         *LiveForecast   `json:"live"`
	Backtest     *BacktestResult `json:"backtest,omitempty"`
	Scorecard    *Scorecard      `json:"scorecard,omitempty"`
	Bands        *BandSet        `json:"bands"`
}

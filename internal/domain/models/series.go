package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Column names as produced by the indicator pipeline (pandas-ta naming).
const (
	ColOpen       = "Open"
	ColHigh       = "High"
	ColLow        = "Low"
	ColClose      = "Close"
	ColVolume     = "Volume"
	ColRSI14      = "RSI_14"
	ColMACD       = "MACD_12_26_9"
	ColMACDSignal = "MACDs_12_26_9"
	ColMACDHist   = "MACDh_12_26_9"
	ColSMA20      = "SMA_20"
	ColSMA50      = "SMA_50"
)

// DefaultFeatureNames is the fixed, ordered feature vector fed to every
// quantile model.
var DefaultFeatureNames = []string{ColHigh, ColClose, ColVolume, ColLow, ColRSI14, ColMACD, ColSMA50}

// Series is a time-indexed table of numeric columns. Undefined cells are NaN.
type Series struct {
	Symbol     string
	Timestamps []time.Time
	Columns    map[string][]float64
}

// NewSeries returns an empty series over the given timestamps.
func NewSeries(symbol string, ts []time.Time) *Series {
	return &Series{Symbol: symbol, Timestamps: ts, Columns: make(map[string][]float64)}
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Timestamps)
}

// Set attaches a column; its length must match the timestamp index.
func (s *Series) Set(name string, values []float64) error {
	if len(values) != len(s.Timestamps) {
		return fmt.Errorf("%w: column %q has %d values, index has %d", ErrInvalidParameter, name, len(values), len(s.Timestamps))
	}
	if s.Columns == nil {
		s.Columns = make(map[string][]float64)
	}
	s.Columns[name] = values
	return nil
}

// Column returns the named column and whether it exists.
func (s *Series) Column(name string) ([]float64, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Columns[name]
	return v, ok
}

// Value returns the cell at (name, i) or NaN when absent.
func (s *Series) Value(name string, i int) float64 {
	col, ok := s.Column(name)
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// Names lists column names in sorted order.
func (s *Series) Names() []string {
	names := make([]string, 0, len(s.Columns))
	for k := range s.Columns {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Slice returns a view over rows [from, to). Columns share backing arrays.
func (s *Series) Slice(from, to int) *Series {
	if from < 0 {
		from = 0
	}
	if to > s.Len() {
		to = s.Len()
	}
	if from > to {
		from = to
	}
	out := &Series{Symbol: s.Symbol, Timestamps: s.Timestamps[from:to], Columns: make(map[string][]float64, len(s.Columns))}
	for k, v := range s.Columns {
		out.Columns[k] = v[from:to]
	}
	return out
}

// Bar is one indicator-annotated OHLCV row as stored in ClickHouse.
type Bar struct {
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	RSI14      float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	SMA20      float64
	SMA50      float64
}

// SeriesFromBars pivots ascending bars into a columnar series.
func SeriesFromBars(symbol string, bars []Bar) *Series {
	n := len(bars)
	ts := make([]time.Time, n)
	cols := map[string][]float64{}
	for _, name := range []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume, ColRSI14, ColMACD, ColMACDSignal, ColMACDHist, ColSMA20, ColSMA50} {
		cols[name] = make([]float64, n)
	}
	for i, b := range bars {
		ts[i] = b.Timestamp
		cols[ColOpen][i] = b.Open
		cols[ColHigh][i] = b.High
		cols[ColLow][i] = b.Low
		cols[ColClose][i] = b.Close
		cols[ColVolume][i] = b.Volume
		cols[ColRSI14][i] = b.RSI14
		cols[ColMACD][i] = b.MACD
		cols[ColMACDSignal][i] = b.MACDSignal
		cols[ColMACDHist][i] = b.MACDHist
		cols[ColSMA20][i] = b.SMA20
		cols[ColSMA50][i] = b.SMA50
	}
	return &Series{Symbol: symbol, Timestamps: ts, Columns: cols}
}

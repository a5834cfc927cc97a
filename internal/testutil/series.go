// Package testutil builds deterministic indicator series for tests.
package testutil

import (
	"math"
	"math/rand"
	"time"

	"FinBand/internal/domain/models"
)

var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Series builds a 4h-spaced series whose Close is closeAt(t). The remaining
// feature columns are simple functions of Close so every row is defined.
func Series(n int, closeAt func(t int) float64) *models.Series {
	ts := make([]time.Time, n)
	cols := map[string][]float64{}
	for _, c := range []string{models.ColOpen, models.ColHigh, models.ColLow, models.ColClose, models.ColVolume,
		models.ColRSI14, models.ColMACD, models.ColMACDSignal, models.ColMACDHist, models.ColSMA20, models.ColSMA50} {
		cols[c] = make([]float64, n)
	}
	for t := 0; t < n; t++ {
		c := closeAt(t)
		ts[t] = Epoch.Add(time.Duration(t) * 4 * time.Hour)
		cols[models.ColOpen][t] = c - 0.25
		cols[models.ColHigh][t] = c + 1 + 0.3*math.Sin(float64(t))
		cols[models.ColLow][t] = c - 1 - 0.2*math.Cos(float64(t)/2)
		cols[models.ColClose][t] = c
		cols[models.ColVolume][t] = 1000 + 10*float64(t%7)
		cols[models.ColRSI14][t] = 50 + 10*math.Sin(float64(t)/3)
		cols[models.ColMACD][t] = math.Cos(float64(t) / 5)
		cols[models.ColMACDSignal][t] = math.Cos(float64(t)/5) * 0.8
		cols[models.ColMACDHist][t] = math.Cos(float64(t)/5) * 0.2
		cols[models.ColSMA20][t] = c - 0.5
		cols[models.ColSMA50][t] = c - 1.5 + 0.5*math.Sin(float64(t)/7)
	}
	return &models.Series{Symbol: "TEST", Timestamps: ts, Columns: cols}
}

// Linear returns Close = base + t.
func Linear(n int, base float64) *models.Series {
	return Series(n, func(t int) float64 { return base + float64(t) })
}

// Constant returns a series whose every column is constant.
func Constant(n int, c float64) *models.Series {
	s := Series(n, func(int) float64 { return c })
	for name, v := range map[string]float64{
		models.ColHigh: c + 1, models.ColLow: c - 1, models.ColSMA50: c - 1.5, models.ColVolume: 1000,
		models.ColRSI14: 50, models.ColMACD: 0, models.ColMACDSignal: 0, models.ColMACDHist: 0,
	} {
		col := s.Columns[name]
		for i := range col {
			col[i] = v
		}
	}
	return s
}

// RandomWalk returns a seeded random walk starting at 100.
func RandomWalk(n int, seed int64) *models.Series {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	p := 100.0
	for i := range closes {
		p += rng.NormFloat64()
		closes[i] = p
	}
	s := Series(n, func(t int) float64 { return closes[t] })
	vol := s.Columns[models.ColVolume]
	for i := range vol {
		vol[i] = 1000 + 200*rng.Float64()
	}
	return s
}

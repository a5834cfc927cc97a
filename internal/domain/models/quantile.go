package models

import (
	"fmt"
	"sort"
	"strconv"
)

// QuantileLevel is a probability in (0, 1).
type QuantileLevel float64

// DefaultLevels is the ordered level set used when none is configured.
var DefaultLevels = []QuantileLevel{0.05, 0.15, 0.25, 0.50, 0.75, 0.85, 0.95}

// TargetKind names which forward target a level is trained against.
type TargetKind int

const (
	TargetLow TargetKind = iota
	TargetMid
	TargetHigh
)

func (k TargetKind) String() string {
	switch k {
	case TargetLow:
		return "future_low"
	case TargetHigh:
		return "future_high"
	default:
		return "future_mid"
	}
}

// Target binds lower levels to FutureLow, upper levels to FutureHigh and the
// median to FutureMid.
func (q QuantileLevel) Target() TargetKind {
	switch {
	case q < 0.5:
		return TargetLow
	case q > 0.5:
		return TargetHigh
	default:
		return TargetMid
	}
}

func (q QuantileLevel) Valid() bool { return q > 0 && q < 1 }

func (q QuantileLevel) String() string {
	return strconv.FormatFloat(float64(q), 'f', -1, 64)
}

// MarshalText lets levels be used as JSON object keys.
func (q QuantileLevel) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *QuantileLevel) UnmarshalText(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("quantile level %q: %w", string(b), err)
	}
	*q = QuantileLevel(v)
	return nil
}

// ParseLevels validates, sorts and de-duplicates raw levels. An empty input
// yields DefaultLevels.
func ParseLevels(raw []float64) ([]QuantileLevel, error) {
	if len(raw) == 0 {
		out := make([]QuantileLevel, len(DefaultLevels))
		copy(out, DefaultLevels)
		return out, nil
	}
	seen := make(map[QuantileLevel]struct{}, len(raw))
	out := make([]QuantileLevel, 0, len(raw))
	for _, v := range raw {
		q := QuantileLevel(v)
		if !q.Valid() {
			return nil, fmt.Errorf("%w: quantile level %v outside (0,1)", ErrInvalidParameter, v)
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Forecast maps each level to its predicted price.
type Forecast map[QuantileLevel]float64

// Levels returns the forecast's levels in ascending order.
func (f Forecast) Levels() []QuantileLevel {
	out := make([]QuantileLevel, 0, len(f))
	for q := range f {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Crossed reports whether a higher level predicts below a lower one.
func (f Forecast) Crossed() bool {
	levels := f.Levels()
	for i := 1; i < len(levels); i++ {
		if f[levels[i]] < f[levels[i-1]] {
			return true
		}
	}
	return false
}

func (f Forecast) Clone() Forecast {
	out := make(Forecast, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

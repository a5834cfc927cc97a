package models

import "time"

// Targets holds the forward-looking range of Close over the next H rows,
// the current row included.
type Targets struct {
	High float64 `json:"future_high"`
	Low  float64 `json:"future_low"`
	Mid  float64 `json:"future_mid"`
}

// For returns the target bound to kind.
func (t Targets) For(kind TargetKind) float64 {
	switch kind {
	case TargetLow:
		return t.Low
	case TargetHigh:
		return t.High
	default:
		return t.Mid
	}
}

// Observation is one fully defined row. Features follow the order of the
// owning set's FeatureNames and must be treated as read-only.
type Observation struct {
	Timestamp time.Time
	Features  []float64
	Close     float64
	Target    Targets
}

// ObservationSet is an ascending, read-only sequence of observations.
type ObservationSet struct {
	featureNames []string
	horizon      int
	rows         []Observation
}

func NewObservationSet(featureNames []string, horizon int, rows []Observation) *ObservationSet {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return &ObservationSet{featureNames: names, horizon: horizon, rows: rows}
}

func (s *ObservationSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rows)
}

func (s *ObservationSet) At(i int) Observation { return s.rows[i] }

func (s *ObservationSet) Horizon() int { return s.horizon }

func (s *ObservationSet) FeatureNames() []string {
	out := make([]string, len(s.featureNames))
	copy(out, s.featureNames)
	return out
}

// Head returns a view of the first n observations: every row strictly
// before position n.
func (s *ObservationSet) Head(n int) *ObservationSet {
	if n < 0 {
		n = 0
	}
	if n > len(s.rows) {
		n = len(s.rows)
	}
	return &ObservationSet{featureNames: s.featureNames, horizon: s.horizon, rows: s.rows[:n:n]}
}

// Tail returns a view of the last n observations.
func (s *ObservationSet) Tail(n int) *ObservationSet {
	if n > len(s.rows) {
		n = len(s.rows)
	}
	if n < 0 {
		n = 0
	}
	return &ObservationSet{featureNames: s.featureNames, horizon: s.horizon, rows: s.rows[len(s.rows)-n:]}
}

// Last returns the final observation.
func (s *ObservationSet) Last() (Observation, bool) {
	if s.Len() == 0 {
		return Observation{}, false
	}
	return s.rows[len(s.rows)-1], true
}

// Each calls fn for every row in order.
func (s *ObservationSet) Each(fn func(i int, o Observation)) {
	for i, o := range s.rows {
		fn(i, o)
	}
}

func (s *ObservationSet) Timestamps() []time.Time {
	out := make([]time.Time, len(s.rows))
	for i, o := range s.rows {
		out[i] = o.Timestamp
	}
	return out
}

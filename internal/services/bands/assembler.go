package bands

import (
	"fmt"
	"sort"
	"time"

	"FinBand/internal/domain/models"
)

const fallbackStep = 24 * time.Hour

// Assemble pairs lower/upper levels into nested bands. Historical bands
// follow the backtest timestamps; the forward extension repeats the live
// values flat over horizon steps after the live forecast's timestamp.
//
// A zero step is inferred from the median spacing of the backtest rows.
// bt may be nil, in which case only the forward bands are produced.
func Assemble(bt *models.BacktestResult, live *models.LiveForecast, horizon int, step time.Duration, pairs []models.BandPair) (*models.BandSet, error) {
	if live == nil {
		return nil, fmt.Errorf("%w: live forecast is required", models.ErrInvalidParameter)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("%w: horizon must be >= 1", models.ErrInvalidParameter)
	}
	if len(pairs) == 0 {
		pairs = models.DefaultBandPairs
	}
	if step <= 0 {
		step = InferStep(bt)
	}

	forwardTS := make([]time.Time, horizon)
	for k := range forwardTS {
		forwardTS[k] = live.AsOf.Add(time.Duration(k+1) * step)
	}

	set := &models.BandSet{}
	for _, pair := range pairs {
		lo, okLo := live.Forecast[pair.Lower]
		hi, okHi := live.Forecast[pair.Upper]
		if !okLo || !okHi {
			return nil, fmt.Errorf("%w: live forecast lacks band pair %s/%s", models.ErrInvalidParameter, pair.Lower, pair.Upper)
		}
		fwd := models.Band{
			Pair:       pair,
			Coverage:   pair.Nominal(),
			Timestamps: forwardTS,
			Lower:      make([]float64, horizon),
			Upper:      make([]float64, horizon),
		}
		for k := 0; k < horizon; k++ {
			fwd.Lower[k], fwd.Upper[k] = lo, hi
		}
		set.Forward = append(set.Forward, fwd)

		if bt == nil {
			continue
		}
		hist := models.Band{
			Pair:       pair,
			Coverage:   pair.Nominal(),
			Timestamps: bt.Timestamps(),
			Lower:      make([]float64, len(bt.Rows)),
			Upper:      make([]float64, len(bt.Rows)),
		}
		for i, r := range bt.Rows {
			l, okL := r.Forecast[pair.Lower]
			u, okU := r.Forecast[pair.Upper]
			if !okL || !okU {
				return nil, fmt.Errorf("%w: backtest row %d lacks band pair %s/%s", models.ErrInvalidParameter, i, pair.Lower, pair.Upper)
			}
			hist.Lower[i], hist.Upper[i] = l, u
		}
		set.Historical = append(set.Historical, hist)
	}
	return set, nil
}

// InferStep returns the median spacing of the backtest timestamps, or one
// day when there are fewer than two rows.
func InferStep(bt *models.BacktestResult) time.Duration {
	if bt == nil || len(bt.Rows) < 2 {
		return fallbackStep
	}
	gaps := make([]time.Duration, 0, len(bt.Rows)-1)
	for i := 1; i < len(bt.Rows); i++ {
		if d := bt.Rows[i].Timestamp.Sub(bt.Rows[i-1].Timestamp); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return fallbackStep
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

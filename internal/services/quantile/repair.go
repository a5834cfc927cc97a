package quantile

import (
	"sort"

	"FinBand/internal/domain/models"
)

// Repair rearranges a forecast so values are non-decreasing in level order.
// The multiset of predicted values is preserved; only their assignment to
// levels changes. The input is not modified.
func Repair(f models.Forecast) models.Forecast {
	levels := f.Levels()
	values := make([]float64, len(levels))
	for i, q := range levels {
		values[i] = f[q]
	}
	sort.Float64s(values)
	out := make(models.Forecast, len(levels))
	for i, q := range levels {
		out[q] = values[i]
	}
	return out
}

package quantile

import "sort"

// PinballLoss is the quantile loss of predicting pred when y is realised.
func PinballLoss(q, y, pred float64) float64 {
	r := y - pred
	if r >= 0 {
		return q * r
	}
	return (q - 1) * r
}

// MeanPinballLoss averages PinballLoss over paired observations.
func MeanPinballLoss(q float64, ys, preds []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	var sum float64
	for i := range ys {
		sum += PinballLoss(q, ys[i], preds[i])
	}
	return sum / float64(len(ys))
}

// EmpiricalQuantile returns the lower empirical q-quantile of values, which
// minimises the pinball loss over constants.
func EmpiricalQuantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

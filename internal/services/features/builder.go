package features

import (
	"fmt"
	"math"

	"FinBand/internal/domain/models"
)

// Build turns a raw indicator series into observations with forward-looking
// targets over the next horizon rows (the current row included).
//
// Rows with an undefined feature or Close are dropped first; the forward
// window is then taken over the surviving rows, and the trailing horizon-1
// rows, whose window is incomplete, are dropped as well.
func Build(series *models.Series, horizon int, featureNames []string) (*models.ObservationSet, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("%w: horizon must be >= 1, got %d", models.ErrInvalidParameter, horizon)
	}
	if len(featureNames) == 0 {
		featureNames = models.DefaultFeatureNames
	}
	if series == nil {
		return nil, &models.EmptySeriesError{}
	}

	cols, err := requiredColumns(series, featureNames)
	if err != nil {
		return nil, err
	}
	closeCol := series.Columns[models.ColClose]

	n := series.Len()
	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(closeCol[i]) || anyNaN(cols, i) {
			continue
		}
		keep = append(keep, i)
	}

	usable := len(keep) - (horizon - 1)
	if usable <= 0 {
		return nil, &models.EmptySeriesError{Rows: n, Dropped: n - len(keep)}
	}

	// the trailing rows feed the forward windows, so they are checked too
	for t := 1; t < len(keep); t++ {
		if !series.Timestamps[keep[t]].After(series.Timestamps[keep[t-1]]) {
			return nil, fmt.Errorf("%w: timestamps not strictly ascending at row %d", models.ErrInvalidParameter, keep[t])
		}
	}

	rows := make([]models.Observation, 0, usable)
	for t := 0; t < usable; t++ {
		src := keep[t]

		hi, lo := math.Inf(-1), math.Inf(1)
		for k := t; k < t+horizon; k++ {
			c := closeCol[keep[k]]
			hi = math.Max(hi, c)
			lo = math.Min(lo, c)
		}

		feats := make([]float64, len(cols))
		for j, col := range cols {
			feats[j] = col[src]
		}
		rows = append(rows, models.Observation{
			Timestamp: series.Timestamps[src],
			Features:  feats,
			Close:     closeCol[src],
			Target:    models.Targets{High: hi, Low: lo, Mid: (hi + lo) / 2},
		})
	}

	return models.NewObservationSet(featureNames, horizon, rows), nil
}

func requiredColumns(series *models.Series, featureNames []string) ([][]float64, error) {
	n := series.Len()
	var missing []string
	seen := map[string]bool{}
	check := func(name string) []float64 {
		col, ok := series.Column(name)
		if !ok {
			if !seen[name] {
				missing = append(missing, name)
				seen[name] = true
			}
			return nil
		}
		return col
	}

	cols := make([][]float64, len(featureNames))
	for j, name := range featureNames {
		cols[j] = check(name)
	}
	check(models.ColClose)
	if len(missing) > 0 {
		return nil, &models.MissingColumnError{Columns: missing}
	}

	for j, col := range cols {
		if len(col) != n {
			return nil, fmt.Errorf("%w: column %q has %d values, index has %d", models.ErrInvalidParameter, featureNames[j], len(col), n)
		}
	}
	if len(series.Columns[models.ColClose]) != n {
		return nil, fmt.Errorf("%w: Close column length mismatch", models.ErrInvalidParameter)
	}
	return cols, nil
}

func anyNaN(cols [][]float64, i int) bool {
	for _, col := range cols {
		if math.IsNaN(col[i]) {
			return true
		}
	}
	return false
}

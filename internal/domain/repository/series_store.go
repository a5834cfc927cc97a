package repository

import (
	"context"
	"errors"

	"FinBand/internal/domain/models"
)

// SeriesStore provides read-only access to indicator-annotated price series.
// Returned series are ascending by timestamp; limit <= 0 means everything.
type SeriesStore interface {
	LoadSeries(ctx context.Context, symbol string, tf Timeframe, limit int) (*models.Series, error)
}

// ErrSeriesNotFound is returned when a store has no data for the symbol.
var ErrSeriesNotFound = errors.New("series not found")

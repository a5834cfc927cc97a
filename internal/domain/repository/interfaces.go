package repository

import (
	"context"
	"time"

	"FinBand/internal/domain/models"
)

// ResultSink persists or forwards finished forecast reports.
type ResultSink interface {
	Save(ctx context.Context, r *models.ForecastReport) error
	Close() error
}

// ReportCache stores encoded reports keyed by request.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordFit(level, solver, result string, seconds float64)
	RecordRun(kind, cadence string, seconds float64)
	RecordError(kind string)
	RecordForecast(symbol, level string, price float64)
	RecordCache(hit bool)
}

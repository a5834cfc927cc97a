package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	pkgch "FinBand/pkg/clickhouse"
	"FinBand/pkg/logger"
)

const barColumns = `ts, open, high, low, close, volume, rsi_14, macd, macd_signal, macd_hist, sma_20, sma_50`

// CHSeriesStore implements SeriesStore backed by ClickHouse.
type CHSeriesStore struct {
	db    *sql.DB
	table string
	l     *logger.Logger
}

// NewCHSeriesStore reads from table, e.g. "finband.bars".
func NewCHSeriesStore(ch *pkgch.Client, table string) *CHSeriesStore {
	return &CHSeriesStore{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHSeriesStore) SetLogger(l *logger.Logger) { s.l = l }

// LoadSeries fetches the latest limit bars (all when limit <= 0) in
// ascending order. NULL cells become NaN.
func (s *CHSeriesStore) LoadSeries(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) (*models.Series, error) {
	start := time.Now()

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? AND tf = ? ORDER BY ts DESC`, barColumns, s.table)
	args := []interface{}{symbol, string(tf)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse load_series query error",
			logger.String("table", s.table),
			logger.String("symbol", symbol),
			logger.String("tf", string(tf)),
			logger.Error(err),
		)
		return nil, fmt.Errorf("load series: %w", err)
	}
	defer rows.Close()

	capHint := limit
	if capHint <= 0 {
		capHint = 1024
	}
	bars := make([]models.Bar, 0, capHint)
	for rows.Next() {
		var (
			ts  time.Time
			raw [11]sql.NullFloat64
		)
		dest := []interface{}{&ts}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			s.l.Error("clickhouse load_series scan error", logger.String("symbol", symbol), logger.Error(err))
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, models.Bar{
			Timestamp:  ts.UTC(),
			Open:       nanIfNull(raw[0]),
			High:       nanIfNull(raw[1]),
			Low:        nanIfNull(raw[2]),
			Close:      nanIfNull(raw[3]),
			Volume:     nanIfNull(raw[4]),
			RSI14:      nanIfNull(raw[5]),
			MACD:       nanIfNull(raw[6]),
			MACDSignal: nanIfNull(raw[7]),
			MACDHist:   nanIfNull(raw[8]),
			SMA20:      nanIfNull(raw[9]),
			SMA50:      nanIfNull(raw[10]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s (%s) in %s", domrepo.ErrSeriesNotFound, symbol, tf, s.table)
	}

	// reverse to ASC
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	s.l.Info("clickhouse load_series ok",
		logger.String("table", s.table),
		logger.String("symbol", symbol),
		logger.String("tf", string(tf)),
		logger.Int("rows", len(bars)),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return models.SeriesFromBars(symbol, bars), nil
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

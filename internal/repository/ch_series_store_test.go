package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	pkgch "FinBand/pkg/clickhouse"
)

var barCols = []string{"ts", "open", "high", "low", "close", "volume", "rsi_14", "macd", "macd_signal", "macd_hist", "sma_20", "sma_50"}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestCHLoadSeriesReversesToAscending(t *testing.T) {
	db, mock := newMockDB(t)
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(barCols).
		AddRow(t0.Add(8*time.Hour), 3.0, 3.5, 2.5, 3.2, 300.0, 61.0, 0.3, 0.2, 0.1, 3.0, 2.9).
		AddRow(t0.Add(4*time.Hour), 2.0, 2.5, 1.5, 2.2, 200.0, 58.0, 0.2, 0.1, 0.1, 2.0, nil).
		AddRow(t0, 1.0, 1.5, 0.5, 1.2, 100.0, nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT ts, open, .* FROM finband\.bars WHERE symbol = \? AND tf = \? ORDER BY ts DESC LIMIT \?`).
		WithArgs("BTC-USD", "4h", 3).
		WillReturnRows(rows)

	store := NewCHSeriesStore(pkgch.NewClientFromDB(db), "finband.bars")
	s, err := store.LoadSeries(context.Background(), "BTC-USD", domrepo.TF4h, 3)
	require.NoError(t, err)

	require.Equal(t, 3, s.Len())
	assert.Equal(t, t0, s.Timestamps[0])
	assert.Equal(t, 1.2, s.Value(models.ColClose, 0))
	assert.Equal(t, 3.2, s.Value(models.ColClose, 2))
	assert.True(t, math.IsNaN(s.Value(models.ColRSI14, 0)))
	assert.True(t, math.IsNaN(s.Value(models.ColSMA50, 1)))
	assert.Equal(t, 2.9, s.Value(models.ColSMA50, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHLoadSeriesNoLimit(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`ORDER BY ts DESC$`).
		WithArgs("ETH-USD", "1d").
		WillReturnRows(sqlmock.NewRows(barCols))

	store := NewCHSeriesStore(pkgch.NewClientFromDB(db), "finband.bars")
	_, err := store.LoadSeries(context.Background(), "ETH-USD", domrepo.TF1d, 0)
	assert.ErrorIs(t, err, domrepo.ErrSeriesNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHLoadSeriesQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("code: 60, table does not exist"))

	store := NewCHSeriesStore(pkgch.NewClientFromDB(db), "finband.bars")
	_, err := store.LoadSeries(context.Background(), "BTC-USD", domrepo.TF4h, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table does not exist")
}

func TestSchemaStatements(t *testing.T) {
	stmts := Schema("finband", "bars", "forecasts")
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[1], "finband.bars")
	assert.Contains(t, stmts[2], "finband.forecasts")
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinBand/internal/domain/models"
	pkgch "FinBand/pkg/clickhouse"
	pkgkafka "FinBand/pkg/kafka"
)

func sampleReport() *models.ForecastReport {
	asOf := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &models.ForecastReport{
		Symbol:      "BTC-USD",
		Timeframe:   "4h",
		GeneratedAt: asOf.Add(time.Minute),
		Params:      models.RunParams{Cadence: models.RetrainEveryStep, Solver: "simplex"},
		Live: &models.LiveForecast{
			AsOf:     asOf,
			Horizon:  6,
			Close:    100,
			Forecast: models.Forecast{0.05: 95, 0.5: 100, 0.95: 106},
		},
	}
}

func TestCHResultSinkInsertsOneRowPerLevel(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO finband\.forecasts \(symbol, tf, generated_at, as_of, horizon, level, target, value, close, cadence, solver\) VALUES \(.+\),\(.+\),\(.+\)$`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	sink := NewCHResultSink(pkgch.NewClientFromDB(db), "finband.forecasts")
	require.NoError(t, sink.Save(context.Background(), sampleReport()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCHResultSinkSkipsEmptyAndWrapsErrors(t *testing.T) {
	db, mock := newMockDB(t)
	sink := NewCHResultSink(pkgch.NewClientFromDB(db), "finband.forecasts")

	require.NoError(t, sink.Save(context.Background(), &models.ForecastReport{Symbol: "X"}))

	mock.ExpectExec(`INSERT`).WillReturnError(errors.New("readonly"))
	err := sink.Save(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert forecasts")
}

type captureWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaResultSink(t *testing.T) {
	w := &captureWriter{}
	sink := NewKafkaResultSink(pkgkafka.NewProducerWithWriter(w, "snappy"), "finband.forecasts")

	require.NoError(t, sink.Save(context.Background(), sampleReport()))
	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "finband.forecasts", m.Topic)
	assert.Equal(t, "BTC-USD", string(m.Key))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(m.Value, &decoded))
	live := decoded["live"].(map[string]interface{})
	fc := live["forecast"].(map[string]interface{})
	assert.Equal(t, 106.0, fc["0.95"])
}

type recordingSink struct {
	saved  int
	err    error
	closed bool
}

func (s *recordingSink) Save(context.Context, *models.ForecastReport) error {
	s.saved++
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestMultiSinkFansOutAndJoinsErrors(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("b down")}
	c := &recordingSink{}
	m := MultiSink{a, b, c}

	err := m.Save(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b down")
	assert.Equal(t, 1, a.saved)
	assert.Equal(t, 1, c.saved)

	require.NoError(t, m.Close())
	assert.True(t, a.closed && b.closed && c.closed)
	assert.NoError(t, MultiSink(nil).Save(context.Background(), sampleReport()))
}

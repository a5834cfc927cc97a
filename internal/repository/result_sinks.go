package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	pkgch "FinBand/pkg/clickhouse"
	pkgkafka "FinBand/pkg/kafka"
)

// CHResultSink writes one row per (symbol, as_of, level) of the live forecast.
type CHResultSink struct {
	db    *sql.DB
	table string
}

func NewCHResultSink(ch *pkgch.Client, table string) *CHResultSink {
	return &CHResultSink{db: ch.DB(), table: table}
}

func (s *CHResultSink) Save(ctx context.Context, r *models.ForecastReport) error {
	if r == nil || r.Live == nil || len(r.Live.Forecast) == 0 {
		return nil
	}
	live := r.Live
	levels := live.Forecast.Levels()

	values := make([]string, 0, len(levels))
	args := make([]interface{}, 0, len(levels)*11)
	for _, q := range levels {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.Symbol,
			r.Timeframe,
			r.GeneratedAt.UTC(),
			live.AsOf.UTC(),
			live.Horizon,
			float64(q),
			q.Target().String(),
			live.Forecast[q],
			live.Close,
			string(r.Params.Cadence),
			r.Params.Solver,
		)
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (symbol, tf, generated_at, as_of, horizon, level, target, value, close, cadence, solver) VALUES %s",
		s.table, strings.Join(values, ","),
	)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert forecasts: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to pkg/clickhouse.
func (s *CHResultSink) Close() error { return nil }

// KafkaResultSink publishes the full report as JSON keyed by symbol.
type KafkaResultSink struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaResultSink(producer *pkgkafka.Producer, topic string) *KafkaResultSink {
	return &KafkaResultSink{producer: producer, topic: topic}
}

func (p *KafkaResultSink) Save(ctx context.Context, r *models.ForecastReport) error {
	if r == nil {
		return nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return p.producer.Publish(ctx, p.topic, pkgkafka.Message{
		Key:   []byte(r.Symbol),
		Value: body,
		Headers: map[string]string{
			"content-type": "application/json",
			"timeframe":    r.Timeframe,
		},
	})
}

// Close is a no-op; the producer is shared with other publishers and closed
// by whoever built it.
func (p *KafkaResultSink) Close() error { return nil }

// MultiSink fans a report out to every sink and joins their errors.
type MultiSink []domrepo.ResultSink

func (m MultiSink) Save(ctx context.Context, r *models.ForecastReport) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

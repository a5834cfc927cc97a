package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	"FinBand/pkg/logger"
	"FinBand/pkg/util"
)

// CSVSeriesStore reads indicator-annotated bars from <dir>/<SYMBOL>.csv as
// written by the upstream indicator job: a header row, the timestamp in the
// first column, one numeric column per indicator.
// A <dir>/<tf>/<SYMBOL>.csv file takes precedence when present.
type CSVSeriesStore struct {
	dir      string
	skipRows int
	l        *logger.Logger
}

// NewCSVSeriesStore drops skipRows leading data rows (indicator warm-up) on
// every load.
func NewCSVSeriesStore(dir string, skipRows int, l *logger.Logger) *CSVSeriesStore {
	if skipRows < 0 {
		skipRows = 0
	}
	return &CSVSeriesStore{dir: dir, skipRows: skipRows, l: l}
}

func (s *CSVSeriesStore) LoadSeries(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) (*models.Series, error) {
	if symbol == "" || strings.ContainsAny(symbol, `/\`) || strings.Contains(symbol, "..") {
		return nil, fmt.Errorf("%w: symbol %q", models.ErrInvalidParameter, symbol)
	}
	start := time.Now()

	path, err := s.resolve(symbol, tf)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	series, err := readSeries(ctx, symbol, f)
	if err != nil {
		s.l.Error("csv load failed", logger.String("path", path), logger.Error(err))
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if s.skipRows > 0 {
		series = series.Slice(s.skipRows, series.Len())
	}
	if limit > 0 && series.Len() > limit {
		series = series.Slice(series.Len()-limit, series.Len())
	}

	s.l.Debug("csv series loaded",
		logger.String("symbol", symbol),
		logger.String("path", path),
		logger.Int("rows", series.Len()),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return series, nil
}

func (s *CSVSeriesStore) resolve(symbol string, tf domrepo.Timeframe) (string, error) {
	candidates := []string{
		filepath.Join(s.dir, string(tf), symbol+".csv"),
		filepath.Join(s.dir, symbol+".csv"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s (%s) under %s", domrepo.ErrSeriesNotFound, symbol, tf, s.dir)
}

// readSeries parses a header-first CSV. Blank or NaN cells become NaN.
// Row order is kept as written.
func readSeries(ctx context.Context, symbol string, r io.Reader) (*models.Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &models.EmptySeriesError{}
		}
		return nil, fmt.Errorf("header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: header needs a timestamp and at least one value column", models.ErrInvalidParameter)
	}
	names := make([]string, len(header)-1)
	for i, h := range header[1:] {
		names[i] = strings.TrimSpace(h)
	}

	var ts []time.Time
	cols := make([][]float64, len(names))
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		t, ok := util.ParseTime(rec[0])
		if !ok {
			return nil, fmt.Errorf("%w: line %d: bad timestamp %q", models.ErrInvalidParameter, line, rec[0])
		}
		ts = append(ts, t)
		for i := range names {
			v, err := util.ParseFloat(rec[i+1])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %v", models.ErrInvalidParameter, line, names[i], err)
			}
			cols[i] = append(cols[i], v)
		}
	}

	series := models.NewSeries(symbol, ts)
	for i, name := range names {
		if name == "" {
			continue
		}
		if err := series.Set(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return series, nil
}

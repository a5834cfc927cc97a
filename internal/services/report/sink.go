package report

import (
	"context"
	"fmt"
	"time"

	"FinBand/internal/domain/models"
	"FinBand/internal/domain/repository"
	xhttp "FinBand/pkg/http"
)

// HTTPServiceBase wraps the shared HTTP client with a base URL and JSON
// POST helpers.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
}

func NewHTTPServiceBase(baseURL string, timeout time.Duration) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPServiceBase{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("report http client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries PostJSON up to attempts times with linear backoff.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = b.PostJSON(ctx, path, payload, dest); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Payload is the body posted to the report service.
type Payload struct {
	Symbol  string                 `json:"symbol"`
	Context string                 `json:"context"`
	Report  *models.ForecastReport `json:"report"`
}

// SeriesSource fetches the series a report was computed from.
type SeriesSource func(ctx context.Context, r *models.ForecastReport) (*models.Series, error)

// HTTPSink hands finished forecasts and their rendered context to the
// external report generator.
type HTTPSink struct {
	base     *HTTPServiceBase
	series   SeriesSource
	attempts int
}

var _ repository.ResultSink = (*HTTPSink)(nil)

func NewHTTPSink(base *HTTPServiceBase, series SeriesSource, attempts int) *HTTPSink {
	return &HTTPSink{base: base, series: series, attempts: attempts}
}

func (s *HTTPSink) Save(ctx context.Context, r *models.ForecastReport) error {
	text, err := BuildContext(ctx, r, s.series)
	if err != nil {
		return err
	}
	return s.base.PostJSONWithRetry(ctx, "/reports", Payload{Symbol: r.Symbol, Context: text, Report: r}, nil, s.attempts)
}

func (s *HTTPSink) Close() error { return nil }

// BuildContext renders the report context, summarising the series when a
// source is available.
func BuildContext(ctx context.Context, r *models.ForecastReport, source SeriesSource) (string, error) {
	c := Context{Summary: Summary{Symbol: r.Symbol}, Report: r}
	if source != nil {
		series, err := source(ctx, r)
		if err != nil {
			return "", fmt.Errorf("report series: %w", err)
		}
		if c.Summary, err = Summarize(series); err != nil {
			return "", fmt.Errorf("report summary: %w", err)
		}
	}
	return Render(c)
}

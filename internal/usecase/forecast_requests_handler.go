package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	xhttp "FinBand/pkg/http"
	pkgkafka "FinBand/pkg/kafka"
	"FinBand/pkg/logger"
)

// ForecastRequestsHandler consumes forecast requests from Kafka, runs the
// full forecast and publishes the report to the result sink.
type ForecastRequestsHandler struct {
	topic   string
	uc      *ForecastUseCase
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewForecastRequestsHandler(topic string, uc *ForecastUseCase, metrics domrepo.Metrics, log *logger.Logger) *ForecastRequestsHandler {
	return &ForecastRequestsHandler{topic: topic, uc: uc, metrics: metrics, log: log}
}

func (h *ForecastRequestsHandler) Topic() string { return h.topic }

// incoming message schema: models.ForecastRequest as JSON; the message key is
// used as symbol when the body omits it.
func (h *ForecastRequestsHandler) Handle(ctx context.Context, key, value []byte) error {
	var req models.ForecastRequest
	if err := json.Unmarshal(value, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode forecast request: %w", err)
	}
	if req.Symbol == "" {
		req.Symbol = string(key)
	}
	if verrs := xhttp.PrepareAndValidate(ctx, &req); len(verrs) > 0 {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("%w: %s", models.ErrInvalidParameter, verrs[0].Message)
	}

	start := time.Now()
	r, err := h.uc.Forecast(ctx, ParamsFromRequest(req))
	if err != nil {
		return err
	}
	if err := h.uc.Publish(ctx, r); err != nil {
		return err
	}
	h.log.Info("forecast request handled",
		logger.String("symbol", r.Symbol),
		logger.String("tf", r.Timeframe),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*ForecastRequestsHandler)(nil)

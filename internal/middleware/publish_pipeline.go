package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	"FinBand/pkg/logger"
)

// ErrBufferFull is returned when a report cannot be delivered and there is no
// room left to hold it for a retry.
var ErrBufferFull = errors.New("publish buffer full")

// PublishPipeline sits between the use case and a ResultSink. It validates
// reports, forwards them, and holds reports the sink rejected in a bounded
// buffer that a background loop retries with exponential backoff.
type PublishPipeline struct {
	sink    domrepo.ResultSink
	metrics domrepo.Metrics
	log     *logger.Logger

	bufSize    int
	backoffMin time.Duration
	backoffMax time.Duration
	drainWait  time.Duration

	bufCh    chan *models.ForecastReport
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type PipelineOption func(*PublishPipeline)

// WithBufferSize sets how many undelivered reports are held for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *PublishPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff bounds the delay between retries of a failing sink.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *PublishPipeline) {
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
	}
}

// WithDrainWait bounds how long Close keeps retrying buffered reports.
func WithDrainWait(d time.Duration) PipelineOption {
	return func(p *PublishPipeline) { p.drainWait = d }
}

// NewPublishPipeline wraps sink and starts the retry loop; Close stops it.
func NewPublishPipeline(sink domrepo.ResultSink, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *PublishPipeline {
	p := &PublishPipeline{
		sink:       sink,
		metrics:    metrics,
		log:        log,
		bufSize:    256,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 5 * time.Second,
		drainWait:  5 * time.Second,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.ForecastReport, p.bufSize)
	go p.retryLoop()
	return p
}

// Save validates and forwards r. A report the sink rejects is buffered and
// Save returns nil; only a full buffer is reported as an error.
func (p *PublishPipeline) Save(ctx context.Context, r *models.ForecastReport) error {
	if err := validateReport(r); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	err := p.sink.Save(ctx, r)
	if err == nil {
		return nil
	}
	p.metrics.RecordError("pipeline_process")
	select {
	case p.bufCh <- r:
		p.log.Warn("report buffered for retry",
			logger.String("symbol", r.Symbol),
			logger.Int("depth", len(p.bufCh)),
			logger.Error(err),
		)
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return fmt.Errorf("%w: %v", ErrBufferFull, err)
	}
}

// Pending returns the number of reports waiting for a retry.
func (p *PublishPipeline) Pending() int { return len(p.bufCh) }

// Close stops the retry loop, gives buffered reports one last chance within
// the drain wait and closes the wrapped sink.
func (p *PublishPipeline) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done

	ctx, cancel := context.WithTimeout(context.Background(), p.drainWait)
	defer cancel()
	var dropped int
	for {
		var r *models.ForecastReport
		select {
		case r = <-p.bufCh:
		default:
		}
		if r == nil {
			break
		}
		if ctx.Err() != nil || p.sink.Save(ctx, r) != nil {
			dropped++
		}
	}
	if dropped > 0 {
		p.metrics.RecordError("pipeline_buffer_drop")
		p.log.Warn("undelivered reports dropped on close", logger.Int("count", dropped))
	}
	return p.sink.Close()
}

func (p *PublishPipeline) retryLoop() {
	defer close(p.done)
	backoff := p.backoffMin
	for {
		select {
		case <-p.stopCh:
			return
		case r := <-p.bufCh:
			if err := p.sink.Save(context.Background(), r); err != nil {
				p.metrics.RecordError("pipeline_flush")
				// requeue if space; drop otherwise
				select {
				case p.bufCh <- r:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
					p.log.Warn("report dropped", logger.String("symbol", r.Symbol), logger.Error(err))
				}
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				}
				if backoff *= 2; backoff > p.backoffMax {
					backoff = p.backoffMax
				}
				continue
			}
			backoff = p.backoffMin
		}
	}
}

func validateReport(r *models.ForecastReport) error {
	if r == nil {
		return fmt.Errorf("%w: report is nil", models.ErrInvalidParameter)
	}
	if r.Symbol == "" {
		return fmt.Errorf("%w: report symbol empty", models.ErrInvalidParameter)
	}
	if r.Live == nil || len(r.Live.Forecast) == 0 {
		return fmt.Errorf("%w: report has no live forecast", models.ErrInvalidParameter)
	}
	return nil
}

var _ domrepo.ResultSink = (*PublishPipeline)(nil)

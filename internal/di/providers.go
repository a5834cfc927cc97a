package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	"FinBand/internal/handler/api"
	mid "FinBand/internal/middleware"
	internalrepo "FinBand/internal/repository"
	"FinBand/internal/service/ratelimit"
	"FinBand/internal/services/quantile"
	"FinBand/internal/services/report"
	"FinBand/internal/usecase"
	"FinBand/pkg/cache"
	pkgch "FinBand/pkg/clickhouse"
	"FinBand/pkg/config"
	xhttp "FinBand/pkg/http"
	pkgkafka "FinBand/pkg/kafka"
	"FinBand/pkg/logger"
	pkgmetrics "FinBand/pkg/metrics"
	"FinBand/pkg/server"
)

// l1TTL bounds how stale the in-process layer over Redis may get.
const l1TTL = 30 * time.Second

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics registers the engine metrics on the default registry.
func ProvideMetrics() domrepo.Metrics {
	return pkgmetrics.New(prometheus.DefaultRegisterer)
}

// ProvideClickHouseClient connects and prepares the schema when a ClickHouse
// source or backend is configured; otherwise it returns nil.
func ProvideClickHouseClient(cfg *config.Config, l *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.UsesClickHouse() {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	schema := internalrepo.Schema(cfg.ClickHouse.Database, cfg.ClickHouse.BarsTable, cfg.ClickHouse.ForecastTable)
	if err := client.InitSchema(ctx, schema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", logger.String("database", cfg.ClickHouse.Database))

	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", logger.Error(err))
		}
	}, nil
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Compression, p.MaxAttempts),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithAsync(p.Async),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", logger.Error(err))
		}
	}, nil
}

// ProvideSeriesStore selects the CSV directory or the ClickHouse bars table.
func ProvideSeriesStore(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (domrepo.SeriesStore, error) {
	switch cfg.Source.Type {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("series store: clickhouse client unavailable")
		}
		store := internalrepo.NewCHSeriesStore(ch, cfg.ClickHouse.Database+"."+cfg.ClickHouse.BarsTable)
		store.SetLogger(l)
		return store, nil
	case "csv", "":
		return internalrepo.NewCSVSeriesStore(cfg.Source.CSVDir, cfg.Source.SkipRows, l), nil
	default:
		return nil, fmt.Errorf("series store: unknown source type %q", cfg.Source.Type)
	}
}

// ProvideResultSink combines the configured backend with the optional report
// service behind a retrying publish pipeline. It returns nil when nothing is
// configured.
func ProvideResultSink(
	cfg *config.Config,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	store domrepo.SeriesStore,
	metrics domrepo.Metrics,
	l *logger.Logger,
) (domrepo.ResultSink, func(), error) {
	var sinks internalrepo.MultiSink
	switch cfg.Backend.Type {
	case "kafka":
		if producer == nil {
			return nil, nil, fmt.Errorf("result sink: kafka producer unavailable")
		}
		sinks = append(sinks, internalrepo.NewKafkaResultSink(producer, cfg.Kafka.ResultTopic))
	case "clickhouse":
		if ch == nil {
			return nil, nil, fmt.Errorf("result sink: clickhouse client unavailable")
		}
		sinks = append(sinks, internalrepo.NewCHResultSink(ch, cfg.ClickHouse.Database+"."+cfg.ClickHouse.ForecastTable))
	}
	if cfg.Report.URL != "" {
		base := report.NewHTTPServiceBase(cfg.Report.URL, cfg.Report.Timeout)
		series := func(ctx context.Context, r *models.ForecastReport) (*models.Series, error) {
			return store.LoadSeries(ctx, r.Symbol, domrepo.NormalizeTimeframe(r.Timeframe), cfg.Source.Limit)
		}
		sinks = append(sinks, report.NewHTTPSink(base, series, cfg.Report.MaxRetries+1))
	}

	var sink domrepo.ResultSink
	switch len(sinks) {
	case 0:
		return nil, func() {}, nil
	case 1:
		sink = sinks[0]
	default:
		sink = sinks
	}
	pipe := mid.NewPublishPipeline(sink, metrics, l, mid.WithBufferSize(cfg.Backend.BufferSize))
	return pipe, func() {
		if err := pipe.Close(); err != nil {
			l.Warn("result sink close error", logger.Error(err))
		}
	}, nil
}

// ProvideReportCache uses Redis behind an in-process layer when enabled and
// a plain memory cache otherwise.
func ProvideReportCache(cfg *config.Config, l *logger.Logger) (domrepo.ReportCache, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
		return mc, func() { _ = mc.Close() }, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	lc := cache.NewLayeredCache(rc, l1TTL, cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
	l.Info("redis report cache enabled", logger.String("prefix", cfg.Redis.Prefix))
	return lc, func() {
		if err := lc.Close(); err != nil {
			l.Warn("report cache close error", logger.Error(err))
		}
	}, nil
}

func ProvideSolver(cfg *config.Config) (quantile.Solver, error) {
	return quantile.NewSolver(cfg.Forecast.Solver, quantile.SolverOptions{
		PivotTol:       cfg.Forecast.Tolerance,
		MMTol:          cfg.Forecast.MMTolerance,
		MMMaxIter:      cfg.Forecast.MaxIter,
		SimplexMaxRows: cfg.Forecast.SimplexMaxRows,
	})
}

// ProvideEngineConfig resolves levels and features from the forecast section.
func ProvideEngineConfig(cfg *config.Config, solver quantile.Solver) (usecase.EngineConfig, error) {
	levels, err := models.ParseLevels(cfg.Forecast.Levels)
	if err != nil {
		return usecase.EngineConfig{}, fmt.Errorf("forecast levels: %w", err)
	}
	return usecase.EngineConfig{
		Features:    cfg.Forecast.Features,
		Levels:      levels,
		Solver:      solver,
		Sequential:  cfg.Forecast.Sequential,
		StepWorkers: cfg.Forecast.StepWorkers,
		Step:        cfg.Forecast.Step,
		Timeout:     cfg.Forecast.Timeout,
		CacheTTL:    cfg.Cache.TTL,
		LockTTL:     cfg.Cache.LockTTL,
	}, nil
}

func ProvideForecastUseCase(
	store domrepo.SeriesStore,
	sink domrepo.ResultSink,
	rc domrepo.ReportCache,
	metrics domrepo.Metrics,
	l *logger.Logger,
	ec usecase.EngineConfig,
) *usecase.ForecastUseCase {
	return usecase.NewForecastUseCase(store, sink, rc, metrics, l, ec)
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
}

func ProvideForecastHandler(l *logger.Logger, uc *usecase.ForecastUseCase, rl *ratelimit.Limiter) *api.ForecastEchoHandler {
	return api.NewForecastEchoHandler(l, uc, rl)
}

// ProvideHTTPServer builds the Echo server with the forecast routes.
func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, h *api.ForecastEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideKafkaConsumer subscribes the forecast request handler; nil when
// Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger, uc *usecase.ForecastUseCase, metrics domrepo.Metrics) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.RequestTopic == "" {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers, c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewForecastRequestsHandler(cfg.Kafka.RequestTopic, uc, metrics, l))
	return consumer, nil
}

func ProvideApp(cfg *config.Config, l *logger.Logger, srv *xhttp.Server, consumer *pkgkafka.Consumer, rl *ratelimit.Limiter) *server.App {
	return server.New(cfg, l, srv, consumer, rl)
}

//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinBand/internal/usecase"
	"FinBand/pkg/config"
	"FinBand/pkg/server"
)

// EngineSet builds the forecast use case and everything it reads from or
// writes to.
var EngineSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,

	// Infrastructure clients
	ProvideClickHouseClient,
	ProvideKafkaProducer,
	ProvideReportCache,

	// Repositories
	ProvideSeriesStore,
	ProvideResultSink,

	// Engine
	ProvideSolver,
	ProvideEngineConfig,
	ProvideForecastUseCase,
)

// InitializeApp wires the long-running service: HTTP API plus the Kafka
// request consumer.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		EngineSet,
		ProvideRateLimiter,
		ProvideForecastHandler,
		ProvideHTTPServer,
		ProvideKafkaConsumer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeEngine wires the use case alone for one-shot CLI runs.
func InitializeEngine(cfg *config.Config) (*usecase.ForecastUseCase, func(), error) {
	wire.Build(EngineSet)
	return nil, nil, nil
}

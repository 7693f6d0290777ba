//go:build wireinject
// +build wireinject

package di

import (
	"quantiv/pkg/config"
	"quantiv/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,

		// Stores and repositories
		ProvideStores,
		ProvideMarketSource,
		ProvideForecastPublisher,

		// Services
		ProvideFreshness,
		ProvidePredictor,

		// Use cases
		ProvideQueryService,
		ProvideSinkWriter,
		ProvideBaseline,
		ProvidePipeline,

		// Messaging ingress
		ProvideKafkaConsumer,
		ProvideIngressHandler,

		// HTTP and application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}

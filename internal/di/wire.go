//go:build wireinject
// +build wireinject

package di

import (
	"SnipeRadar/pkg/config"
	"SnipeRadar/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,

		// Metrics
		ProvideRegisterer,
		ProvideGatherer,
		ProvideMetrics,
		ProvideAPIMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvidePostgresPool,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideTargetRepository,
		ProvidePreferenceStore,
		ProvideEventPublisher,
		ProvideDetectionSink,
		ProvideReadyQueue,
		ProvideNotifier,

		// Exchange
		ProvideExchangeClient,
		ProvidePushStream,
		ProvideActivityProvider,

		// Use cases
		ProvideConfidenceStrategy,
		ProvidePatternAnalyzer,
		ProvideListingRegistry,
		ProvideDetectionCoordinator,
		ProvideTargetDispatcher,
		ProvideTargetBridge,
		ProvideMatchPipeline,
		ProvideDetectionProcessor,
		ProvideKafkaConsumer,

		// HTTP
		ProvideStatusHandler,
		ProvideBridgeHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}

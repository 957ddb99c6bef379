//go:build wireinject
// +build wireinject

package di

import (
	"TrapFlow/pkg/config"
	"TrapFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the supervisor.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,
		ProvidePendingQueue,
		ProvideHTTPClient,

		// Repositories
		ProvideEventStore,
		ProvideEventMirror,
		ProvideJournal,

		// Pipeline
		ProvideFeedSource,
		ProvideWindowStore,
		ProvideDetector,
		ProvideAlertDispatcher,
		ProvideDetectStage,
		ProvideTickPipeline,
		ProvideIngestor,

		// Analytics
		ProvideAnalyticsAggregator,
		ProvideCachePublisher,

		// HTTP surface
		ProvideStatusHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeTools wires the subset needed by the one-shot subcommands.
func InitializeTools(cfg *config.Config) (*server.Tools, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,

		ProvideEventStore,
		ProvideEventMirror,
		ProvideJournal,

		ProvideAnalyticsAggregator,
		ProvideCachePublisher,

		ProvideTools,
	)
	return &server.Tools{}, nil
}

//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Session and credential plumbing
		ProvideCalendar,
		ProvideCredentialStore,
		ProvideCredentialWatcher,
		ProvideAuthMachine,

		// Upstream clients
		ProvideQuoteAPI,
		ProvideMarketStream,

		// Caches
		ProvideCacheStore,
		ProvideMetricCache,
		ProvideRegistryCache,

		// Feed
		ProvideTickSink,
		ProvideFeedManager,
		ProvideWatchdog,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

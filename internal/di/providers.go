package di

import (
	"context"
	"fmt"

	"MarketPulse/internal/domain/repository"
	mid "MarketPulse/internal/middleware"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/service/auth"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/internal/service/credential"
	"MarketPulse/internal/service/metricscache"
	"MarketPulse/internal/service/upstream"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/backoff"
	pkgcache "MarketPulse/pkg/cache"
	"MarketPulse/pkg/config"
	pkgkafka "MarketPulse/pkg/kafka"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	level := "info"
	format := "json"
	if cfg.Environment == "development" {
		level = "debug"
		format = "console"
	}
	return logger.New(&logger.Config{Level: level, Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCalendar builds the trading calendar. Misconfigured boundaries
// are fatal here, before anything connects.
func ProvideCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	cal, err := calendar.New(calendar.Config{
		Timezone:      cfg.Calendar.Timezone,
		PreOpen:       cfg.Calendar.PreOpen,
		AuctionFreeze: cfg.Calendar.AuctionFreeze,
		Open:          cfg.Calendar.Open,
		Close:         cfg.Calendar.Close,
		Holidays:      cfg.Calendar.Holidays,
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	return cal, nil
}

// ProvideCredentialStore creates the credential file store.
func ProvideCredentialStore(cfg *config.Config) *credential.Store {
	return credential.NewStore(cfg.Credential.Path)
}

// ProvideCredentialWatcher creates the store change watcher.
func ProvideCredentialWatcher(store *credential.Store, log *logger.Logger, cfg *config.Config) *credential.Watcher {
	return credential.NewWatcher(store, log,
		credential.WithPollInterval(cfg.Credential.PollInterval),
		credential.WithDebounce(cfg.Credential.Debounce),
	)
}

// ProvideQuoteAPI creates the upstream REST client.
func ProvideQuoteAPI(cfg *config.Config, m repository.Metrics) repository.QuoteAPI {
	rps := float64(cfg.Upstream.RateLimit) / 60.0
	if cfg.Upstream.RateLimit <= 0 {
		rps = 1
	}
	return upstream.NewClient(cfg.Upstream.BaseURL,
		upstream.WithRateBudget(rps, 5),
		upstream.WithTimeout(cfg.Upstream.RequestTimeout),
		upstream.WithMetrics(m),
	)
}

// ProvideAuthMachine creates the credential state machine. The REST
// client doubles as the token verifier.
func ProvideAuthMachine(store *credential.Store, api repository.QuoteAPI,
	log *logger.Logger, m repository.Metrics, cfg *config.Config) *auth.Machine {
	return auth.NewMachine(store, api, log, m,
		auth.WithValidityWindow(cfg.Credential.ValidityWindow),
		auth.WithVerifyInterval(cfg.Credential.VerifyInterval),
	)
}

// ProvideMarketStream creates the upstream websocket stream.
func ProvideMarketStream(cfg *config.Config) repository.MarketStream {
	return upstream.NewStream(cfg.Upstream.WebSocketURL,
		upstream.WithPingInterval(cfg.Upstream.PingInterval),
		upstream.WithHandshakeTimeout(cfg.Upstream.HandshakeTimeout),
	)
}

// ProvideCacheStore builds the registry cache store. Redis-backed when
// enabled, in-process otherwise.
func ProvideCacheStore(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Cache.Redis.Enabled {
		return pkgcache.NewMemoryCache(), nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Cache.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
		pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc), nil
}

// ProvideMetricCache creates the derived-metric cache.
func ProvideMetricCache(api repository.QuoteAPI, machine *auth.Machine,
	cfg *config.Config, log *logger.Logger, m repository.Metrics) *metricscache.Cache {
	return metricscache.New(api, machine, machine, cfg.Upstream.Symbols, log, m,
		metricscache.WithTTL(cfg.Cache.MetricTTL),
		metricscache.WithPeriod(cfg.Cache.RefreshPeriod),
		metricscache.WithBackoffPolicy(backoff.Policy{
			Base:   cfg.Cache.Backoff.Base,
			Cap:    cfg.Cache.Backoff.Cap,
			Jitter: cfg.Cache.Backoff.Jitter,
		}),
	)
}

// ProvideRegistryCache creates the once-per-day instrument registry.
func ProvideRegistryCache(api repository.QuoteAPI, machine *auth.Machine,
	store pkgcache.Service, cal *calendar.Calendar, log *logger.Logger) *metricscache.RegistryCache {
	return metricscache.NewRegistryCache(api, machine, machine, store, cal.Location(), log)
}

// ProvideTickSink builds the optional Kafka sink behind the buffering
// pipeline. Returns nil when Kafka is disabled.
func ProvideTickSink(cfg *config.Config, m repository.Metrics) (repository.TickSink, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	sink := internalrepo.NewKafkaTickSink(producer, cfg.Kafka.Topic)
	pipeline := mid.NewTickPipeline(sink, m,
		mid.WithMaxRPS(cfg.Kafka.Pipeline.MaxRPS),
		mid.WithBufferSize(cfg.Kafka.Pipeline.BufferSize),
	)
	pipeline.Start(context.Background())
	return pipeline, nil
}

// ProvideFeedManager creates the feed connection manager.
func ProvideFeedManager(stream repository.MarketStream, api repository.QuoteAPI,
	machine *auth.Machine, cal *calendar.Calendar, sink repository.TickSink,
	cfg *config.Config, log *logger.Logger, m repository.Metrics) *usecase.FeedManager {
	fmCfg := usecase.FeedManagerConfig{
		Symbols:        cfg.Upstream.Symbols,
		ConnectGrace:   cfg.Feed.ConnectGrace,
		PollInterval:   cfg.Feed.PollInterval,
		ReevalInterval: cfg.Feed.ReevalInterval,
		ReconnectEvery: cfg.Feed.ReconnectEvery,
		StaleAfter:     cfg.Feed.StaleAfter,
		FallbackAfter:  cfg.Feed.FallbackAfter,
		Retry: backoff.Policy{
			Base:   cfg.Feed.Retry.Base,
			Cap:    cfg.Feed.Retry.Cap,
			Jitter: cfg.Feed.Retry.Jitter,
		},
	}
	opts := []usecase.FeedOption{}
	if sink != nil {
		opts = append(opts, usecase.FeedWithSink(sink))
	}
	return usecase.NewFeedManager(stream, api, machine, machine, cal, fmCfg, log, m, opts...)
}

// ProvideWatchdog creates the feed health watchdog.
func ProvideWatchdog(feed *usecase.FeedManager, machine *auth.Machine,
	cal *calendar.Calendar, cfg *config.Config, log *logger.Logger,
	m repository.Metrics) *usecase.Watchdog {
	return usecase.NewWatchdog(feed, machine, cal, usecase.WatchdogConfig{
		CheckInterval: cfg.Feed.CheckInterval,
		StaleAfter:    cfg.Feed.StaleAfter,
		FallbackAfter: cfg.Feed.FallbackAfter,
	}, log, m)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	watcher *credential.Watcher,
	machine *auth.Machine,
	metricCache *metricscache.Cache,
	registry *metricscache.RegistryCache,
	feed *usecase.FeedManager,
	watchdog *usecase.Watchdog,
) *server.App {
	return server.New(cfg, log, watcher, machine, metricCache, registry, feed, watchdog)
}

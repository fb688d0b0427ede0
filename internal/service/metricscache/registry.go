package metricscache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/auth"
	pkgcache "MarketPulse/pkg/cache"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

// RegistryCache is the reference-data sub-cache: the tradable-instrument
// registry per exchange, fetched at most once per calendar day. All lookups
// within the same trading day are served from the cache with zero upstream
// calls. The key carries the trading date, so rollover is a plain miss.
type RegistryCache struct {
	api      repository.QuoteAPI
	tokens   TokenSource
	reporter AuthReporter
	store    pkgcache.Service
	log      *logger.Logger
	loc      *time.Location
	now      func() time.Time

	mu sync.Mutex // serializes refills per process
}

type RegistryOption func(*RegistryCache)

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *RegistryCache) { r.now = now }
}

func NewRegistryCache(api repository.QuoteAPI, tokens TokenSource, reporter AuthReporter,
	store pkgcache.Service, loc *time.Location, log *logger.Logger, opts ...RegistryOption) *RegistryCache {
	r := &RegistryCache{
		api:      api,
		tokens:   tokens,
		reporter: reporter,
		store:    store,
		log:      log,
		loc:      loc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RegistryCache) key(exchange string) string {
	return pkgcache.GenerateKeyWithParams("registry", exchange, util.TradingDate(r.now(), r.loc))
}

// Instruments returns the registry for an exchange, filling the cache on
// the first request of the trading day.
func (r *RegistryCache) Instruments(ctx context.Context, exchange string) ([]models.Instrument, error) {
	key := r.key(exchange)

	var cached []models.Instrument
	if err := r.store.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	list, authFailed, err := r.refill(ctx, key, exchange)
	if authFailed && r.reporter != nil {
		// central handling, with no lock held; served again once revalidated
		r.reporter.ReportAuthFailure()
	}
	return list, err
}

func (r *RegistryCache) refill(ctx context.Context, key, exchange string) ([]models.Instrument, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// another caller may have refilled while we waited
	var cached []models.Instrument
	if err := r.store.Get(ctx, key, &cached); err == nil {
		return cached, false, nil
	}

	token, state := r.tokens.Current()
	if state != auth.StateValid {
		return nil, false, fmt.Errorf("%w: auth state %s", repository.ErrNoData, state)
	}

	list, outcome, err := r.api.Instruments(ctx, token, exchange)
	if outcome != repository.OutcomeSuccess {
		return nil, outcome == repository.OutcomeAuthFailure,
			fmt.Errorf("instrument registry %s: %w", exchange, err)
	}

	ttl := util.EndOfDay(r.now(), r.loc).Sub(r.now())
	if err := r.store.Set(ctx, key, list, ttl); err != nil {
		r.log.Warn("registry cache store failed", logger.Error(err))
	}
	r.log.Info("instrument registry refreshed",
		logger.String("exchange", exchange), logger.Int("count", len(list)))
	return list, false, nil
}

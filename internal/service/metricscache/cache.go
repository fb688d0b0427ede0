package metricscache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/auth"
	"MarketPulse/pkg/backoff"
	"MarketPulse/pkg/logger"
)

// TokenSource supplies the current credential; a valid token is required
// before any upstream call.
type TokenSource interface {
	Current() (string, auth.State)
}

// AuthReporter receives auth-classified failures for central handling.
type AuthReporter interface {
	ReportAuthFailure()
}

// entry is the per-symbol cache record. Replaced wholesale on update.
type entry struct {
	val          models.MetricValue
	fetchedAt    time.Time
	backoffUntil time.Time
	throttles    int
	seq          uint64 // fetch-start stamp of the stored value
}

// Cache protects the rate-limited derived-metric endpoint while keeping
// per-symbol values reasonably fresh. Tracked symbols get non-overlapping
// refresh slots within the period so calls are spread, never bursted; a
// throttled key backs off exponentially and is served from cache until the
// backoff passes.
type Cache struct {
	api      repository.QuoteAPI
	tokens   TokenSource
	reporter AuthReporter
	log      *logger.Logger
	metrics  repository.Metrics
	now      func() time.Time

	symbols []string
	slots   map[string]time.Duration // offset of each symbol inside the period
	slotLen time.Duration
	ttl     time.Duration
	period  time.Duration
	tick    time.Duration
	policy  backoff.Policy

	mu      sync.RWMutex
	entries map[string]*entry
	seq     atomic.Uint64
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithPeriod(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.period = d
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.tick = d
		}
	}
}

func WithBackoffPolicy(p backoff.Policy) Option {
	return func(c *Cache) { c.policy = p }
}

func New(api repository.QuoteAPI, tokens TokenSource, reporter AuthReporter, symbols []string,
	log *logger.Logger, metrics repository.Metrics, opts ...Option) *Cache {
	c := &Cache{
		api:      api,
		tokens:   tokens,
		reporter: reporter,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
		symbols:  symbols,
		ttl:      20 * time.Second,
		period:   30 * time.Second,
		tick:     time.Second,
		policy:   backoff.Policy{Base: 2 * time.Second, Cap: 5 * time.Minute},
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.assignSlots()
	return c
}

// assignSlots spreads symbols across the refresh period.
func (c *Cache) assignSlots() {
	c.slots = make(map[string]time.Duration, len(c.symbols))
	if len(c.symbols) == 0 {
		return
	}
	c.slotLen = c.period / time.Duration(len(c.symbols))
	for i, s := range c.symbols {
		c.slots[s] = time.Duration(i) * c.slotLen
	}
}

// Get returns the cached value with an explicit staleness flag and age.
// Values past TTL come back stale=true, never silently fresh. ErrNoData is
// returned only before the first successful fetch for a symbol.
func (c *Cache) Get(symbol string) (models.MetricResult, error) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || e.fetchedAt.IsZero() {
		return models.MetricResult{}, repository.ErrNoData
	}

	age := c.now().Sub(e.fetchedAt)
	if age < 0 {
		age = 0
	}
	res := models.MetricResult{
		Value: e.val,
		Stale: age >= c.ttl,
		Age:   age,
	}
	if c.metrics != nil {
		if res.Stale {
			c.metrics.RecordCacheResult("stale")
		} else {
			c.metrics.RecordCacheResult("hit")
		}
	}
	return res, nil
}

// Start launches the refresh loop.
func (c *Cache) Start(ctx context.Context) {
	go c.refreshLoop(ctx)
}

func (c *Cache) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep decides for each key whether it is due, rate-limited or skippable,
// and performs at most one upstream call per due key.
func (c *Cache) Sweep(ctx context.Context) {
	token, state := c.tokens.Current()
	if state != auth.StateValid {
		return
	}

	now := c.now()
	for _, sym := range c.symbols {
		if !c.due(sym, now) {
			continue
		}
		c.fetch(ctx, token, sym)
	}
}

// due applies the slot, TTL and backoff gates for one symbol.
func (c *Cache) due(symbol string, now time.Time) bool {
	off, ok := c.slots[symbol]
	if !ok {
		return false
	}
	inPeriod := time.Duration(now.UnixNano()) % c.period
	if inPeriod < off || inPeriod >= off+c.slotLen {
		// outside its slot a key is served from cache even past a naive TTL
		return false
	}

	c.mu.RLock()
	e, exists := c.entries[symbol]
	c.mu.RUnlock()
	if !exists {
		return true
	}
	if now.Before(e.backoffUntil) {
		return false
	}
	return now.Sub(e.fetchedAt) >= c.ttl
}

func (c *Cache) fetch(ctx context.Context, token, symbol string) {
	start := c.seq.Add(1)
	fetchedAt := c.now()

	val, outcome, err := c.api.Metric(ctx, token, symbol)

	if outcome == repository.OutcomeAuthFailure {
		// central handling with no lock held; the fan-out re-enters this cache
		if c.reporter != nil {
			c.reporter.ReportAuthFailure()
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.entries[symbol]
	if prev != nil && prev.seq >= start {
		// a later-started fetch already landed; never move backwards
		return
	}

	switch outcome {
	case repository.OutcomeSuccess:
		next := &entry{val: *val, fetchedAt: fetchedAt, seq: start}
		if prev != nil && prev.throttles > 0 {
			// first success after a throttled stretch
			c.log.Info("metric backoff cleared", logger.String("symbol", symbol),
				logger.Int("throttles", prev.throttles))
			if c.metrics != nil {
				c.metrics.RecordCacheResult("recovered")
			}
		}
		c.entries[symbol] = next

	case repository.OutcomeThrottled:
		next := c.carry(prev, start)
		next.throttles++
		next.backoffUntil = c.now().Add(c.policy.Delay(next.throttles))
		c.entries[symbol] = next
		if c.metrics != nil {
			c.metrics.RecordCacheResult("throttled")
		}
		c.log.Warn("metric fetch throttled", logger.String("symbol", symbol),
			logger.Int("consecutive", next.throttles))

	default:
		// transient: keep the last good value, it will be served stale
		if c.metrics != nil {
			c.metrics.RecordCacheResult("error")
		}
		c.log.Warn("metric fetch failed", logger.String("symbol", symbol), logger.Error(err))
	}
}

// carry clones the previous entry's value, resetting the stamp. The stored
// value itself is never patched in place.
func (c *Cache) carry(prev *entry, seq uint64) *entry {
	if prev == nil {
		return &entry{seq: seq}
	}
	return &entry{
		val:       prev.val,
		fetchedAt: prev.fetchedAt,
		throttles: prev.throttles,
		seq:       seq,
	}
}

// BackoffUntil exposes a key's backoff deadline for observability.
func (c *Cache) BackoffUntil(symbol string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok {
		return time.Time{}, false
	}
	return e.backoffUntil, !e.backoffUntil.IsZero()
}

// OnAuthChange clears per-key backoff when a fresh credential arrives, so
// recovery is not delayed by stale penalties from the old token.
func (c *Cache) OnAuthChange(s auth.Snapshot) {
	if s.State != auth.StateValid {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for sym, e := range c.entries {
		if e.backoffUntil.IsZero() && e.throttles == 0 {
			continue
		}
		next := *e
		next.backoffUntil = time.Time{}
		next.throttles = 0
		c.entries[sym] = &next
	}
}

package usecase

import (
	"context"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/pkg/logger"
)

// WatchdogConfig carries the evaluation cadence. The degradation
// thresholds themselves live on the feed manager so there is a single
// source of truth when a request is re-validated.
type WatchdogConfig struct {
	CheckInterval time.Duration
	StaleAfter    time.Duration
	FallbackAfter time.Duration
}

func (c *WatchdogConfig) fillDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Second
	}
	if c.FallbackAfter <= 0 {
		c.FallbackAfter = 30 * time.Second
	}
}

// Watchdog observes tick recency and asks the feed manager for
// degradation steps. It never mutates connection state itself, so a tick
// that lands between observation and request simply wins.
type Watchdog struct {
	feed    *FeedManager
	tokens  TokenSource
	cal     *calendar.Calendar
	metrics repository.Metrics
	log     *logger.Logger
	now     func() time.Time
	cfg     WatchdogConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type WatchdogOption func(*Watchdog)

func WatchdogWithClock(now func() time.Time) WatchdogOption {
	return func(w *Watchdog) { w.now = now }
}

func NewWatchdog(feed *FeedManager, tokens TokenSource, cal *calendar.Calendar,
	cfg WatchdogConfig, log *logger.Logger, metrics repository.Metrics,
	opts ...WatchdogOption) *Watchdog {

	cfg.fillDefaults()
	w := &Watchdog{
		feed:    feed,
		tokens:  tokens,
		cal:     cal,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Check()
			}
		}
	}()
}

func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Check runs one evaluation pass. Exported so tests and the status
// surface can trigger it without waiting for the ticker.
func (w *Watchdog) Check() {
	st := w.feed.State()
	age := w.feed.LastTickAge()
	w.metrics.SetLastTickAge(age.Seconds())
	w.metrics.SetPhase(string(w.cal.PhaseAt(w.now())))

	// degradation is monotonic per dry spell: live -> stale -> fallback,
	// one step at a time
	switch st.Mode {
	case ModeLive:
		if age >= w.cfg.StaleAfter {
			if w.feed.RequestTransition(ModeStale, "tick gap") {
				w.log.Warn("feed stale",
					logger.Duration("tick_age", age))
			}
		}
	case ModeStale:
		if age >= w.cfg.FallbackAfter {
			if w.feed.RequestTransition(ModeFallback, "tick gap persisted") {
				w.log.Warn("feed falling back to pull",
					logger.Duration("tick_age", age))
			}
		}
	}
}

// Health assembles the composite status snapshot served by the API.
func (w *Watchdog) Health() models.Health {
	st := w.feed.State()
	age := w.feed.LastTickAge()
	ageMs := int64(-1)
	if age < time.Hour*24*365 {
		ageMs = age.Milliseconds()
	}
	_, authState := w.tokens.Current()
	return models.Health{
		Phase:          string(w.cal.PhaseAt(w.now())),
		AuthState:      string(authState),
		ConnectionMode: string(st.Mode),
		Channel:        string(st.Channel),
		LastTickAgeMs:  ageMs,
	}
}

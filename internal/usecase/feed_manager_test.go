package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/auth"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/internal/service/upstream"
	"MarketPulse/pkg/logger"
)

type fakeStream struct {
	mu         sync.Mutex
	connectErr error
	connects   int32
	ticks      chan *models.Tick
	errs       chan error
	connected  bool
	subscribed []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		ticks: make(chan *models.Tick, 16),
		errs:  make(chan error, 1),
	}
}

func (f *fakeStream) Connect(ctx context.Context, token string) error {
	atomic.AddInt32(&f.connects, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeStream) Subscribe(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	f.subscribed = symbols
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	return f.ticks, f.errs
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

type fakeQuoteAPI struct {
	mu      sync.Mutex
	outcome repository.Outcome
	pulls   int32
}

func (f *fakeQuoteAPI) VerifyToken(ctx context.Context, token string) (repository.Outcome, error) {
	return repository.OutcomeSuccess, nil
}

func (f *fakeQuoteAPI) Quote(ctx context.Context, token, symbol string) (*models.Tick, repository.Outcome, error) {
	atomic.AddInt32(&f.pulls, 1)
	f.mu.Lock()
	out := f.outcome
	f.mu.Unlock()
	if out != repository.OutcomeSuccess {
		return nil, out, errors.New("upstream fault")
	}
	return &models.Tick{Symbol: symbol, Price: 101.5, Timestamp: time.Now().UnixMilli()}, repository.OutcomeSuccess, nil
}

func (f *fakeQuoteAPI) Metric(ctx context.Context, token, symbol string) (*models.MetricValue, repository.Outcome, error) {
	return nil, repository.OutcomeTransient, errors.New("not used")
}

func (f *fakeQuoteAPI) Instruments(ctx context.Context, token, exchange string) ([]models.Instrument, repository.Outcome, error) {
	return nil, repository.OutcomeTransient, errors.New("not used")
}

type fakeTokens struct {
	mu    sync.Mutex
	token string
	state auth.State
}

func (f *fakeTokens) Current() (string, auth.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.state
}

func (f *fakeTokens) set(token string, state auth.State) {
	f.mu.Lock()
	f.token = token
	f.state = state
	f.mu.Unlock()
}

type fakeReporter struct {
	calls int32
}

func (f *fakeReporter) ReportAuthFailure() { atomic.AddInt32(&f.calls, 1) }

type nopMetrics struct{}

func (nopMetrics) RecordTick(source, symbol string)         {}
func (nopMetrics) RecordError(kind string)                  {}
func (nopMetrics) RecordLastPrice(symbol string, p float64) {}
func (nopMetrics) RecordLatency(op string, seconds float64) {}
func (nopMetrics) RecordCacheResult(result string)          {}
func (nopMetrics) SetPhase(phase string)                    {}
func (nopMetrics) SetAuthState(state string)                {}
func (nopMetrics) SetConnectionMode(mode string)            {}
func (nopMetrics) SetLastTickAge(seconds float64)           {}

func liveCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(calendar.Config{
		Timezone:      "UTC",
		PreOpen:       "08:00",
		AuctionFreeze: "08:55",
		Open:          "09:00",
		Close:         "16:00",
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return cal
}

// feedClock starts well inside the live session and advances manually.
type feedClock struct {
	mu sync.Mutex
	at time.Time
}

func newFeedClock() *feedClock {
	return &feedClock{at: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *feedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *feedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, stream repository.MarketStream, api repository.QuoteAPI,
	tokens TokenSource, reporter AuthReporter, cfg FeedManagerConfig) (*FeedManager, *feedClock) {
	t.Helper()
	if cfg.Symbols == nil {
		cfg.Symbols = []string{"NIFTY"}
	}
	clock := newFeedClock()
	m := NewFeedManager(stream, api, tokens, reporter, liveCalendar(t), cfg,
		logger.Nop(), nopMetrics{}, FeedWithClock(clock.Now))
	return m, clock
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestFeedManagerNoConnectWithoutValidToken(t *testing.T) {
	stream := newFakeStream()
	tokens := &fakeTokens{state: auth.StateExpired}
	m, _ := newTestManager(t, stream, &fakeQuoteAPI{}, tokens, &fakeReporter{}, FeedManagerConfig{
		ReevalInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	time.Sleep(60 * time.Millisecond)

	if n := atomic.LoadInt32(&stream.connects); n != 0 {
		t.Fatalf("expected zero connect attempts while credential expired, got %d", n)
	}
	if got := m.State().Mode; got != ModeDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}

	tokens.set("tok", auth.StateValid)
	m.OnAuthChange(auth.Snapshot{Token: "tok", State: auth.StateValid})
	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })

	m.Stop()
	if atomic.LoadInt32(&stream.connects) == 0 {
		t.Fatal("expected a connect once the credential turned valid")
	}
}

func TestFeedManagerPublishesTicks(t *testing.T) {
	stream := newFakeStream()
	tokens := &fakeTokens{token: "tok", state: auth.StateValid}
	m, _ := newTestManager(t, stream, &fakeQuoteAPI{}, tokens, &fakeReporter{}, FeedManagerConfig{
		ReevalInterval: 10 * time.Millisecond,
	})
	sub := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })
	stream.ticks <- &models.Tick{Symbol: "NIFTY", Price: 100, Source: models.SourceLive}

	select {
	case got := <-sub:
		if got.Symbol != "NIFTY" || got.Price != 100 {
			t.Fatalf("unexpected tick %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("tick not delivered to subscriber")
	}

	latest, ok := m.LatestQuote("NIFTY")
	if !ok || latest.Price != 100 {
		t.Fatalf("latest quote not recorded: %+v ok=%v", latest, ok)
	}
}

func TestFeedManagerAuthRejectReportsAndWaits(t *testing.T) {
	stream := newFakeStream()
	stream.connectErr = upstream.ErrAuthRejected
	tokens := &fakeTokens{token: "bad", state: auth.StateValid}
	reporter := &fakeReporter{}
	m, _ := newTestManager(t, stream, &fakeQuoteAPI{}, tokens, reporter, FeedManagerConfig{
		ReevalInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&reporter.calls) >= 1 })
	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeDisconnected })
}

func TestFeedManagerStaleThenLiveOnTick(t *testing.T) {
	stream := newFakeStream()
	tokens := &fakeTokens{token: "tok", state: auth.StateValid}
	m, clock := newTestManager(t, stream, &fakeQuoteAPI{}, tokens, &fakeReporter{}, FeedManagerConfig{
		ReevalInterval: 10 * time.Millisecond,
		StaleAfter:     10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })
	stream.ticks <- &models.Tick{Symbol: "NIFTY", Price: 1, Source: models.SourceLive}
	waitFor(t, time.Second, func() bool { _, ok := m.LatestQuote("NIFTY"); return ok })

	clock.Advance(11 * time.Second)
	if !m.RequestTransition(ModeStale, "test") {
		t.Fatal("expected stale transition to be accepted")
	}
	if m.State().Mode != ModeStale {
		t.Fatalf("expected stale, got %s", m.State().Mode)
	}

	stream.ticks <- &models.Tick{Symbol: "NIFTY", Price: 2, Source: models.SourceLive}
	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })
}

func TestFeedManagerTransitionRefusedWhenFresh(t *testing.T) {
	stream := newFakeStream()
	tokens := &fakeTokens{token: "tok", state: auth.StateValid}
	m, _ := newTestManager(t, stream, &fakeQuoteAPI{}, tokens, &fakeReporter{}, FeedManagerConfig{
		ReevalInterval: 10 * time.Millisecond,
		StaleAfter:     time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })
	stream.ticks <- &models.Tick{Symbol: "NIFTY", Price: 1, Source: models.SourceLive}
	waitFor(t, time.Second, func() bool { _, ok := m.LatestQuote("NIFTY"); return ok })

	if m.RequestTransition(ModeStale, "test") {
		t.Fatal("fresh feed must refuse to degrade")
	}
}

func TestFeedManagerFallbackPullsMarkSource(t *testing.T) {
	stream := newFakeStream()
	tokens := &fakeTokens{token: "tok", state: auth.StateValid}
	api := &fakeQuoteAPI{outcome: repository.OutcomeSuccess}
	m, clock := newTestManager(t, stream, api, tokens, &fakeReporter{}, FeedManagerConfig{
		ReevalInterval: 10 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		ReconnectEvery: time.Hour,
		StaleAfter:     10 * time.Second,
		FallbackAfter:  30 * time.Second,
	})
	sub := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })
	stream.ticks <- &models.Tick{Symbol: "NIFTY", Price: 1, Source: models.SourceLive}
	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("live tick not delivered")
	}

	clock.Advance(31 * time.Second)
	if !m.RequestTransition(ModeStale, "test") {
		t.Fatal("stale transition refused")
	}
	if !m.RequestTransition(ModeFallback, "test") {
		t.Fatal("fallback transition refused")
	}

	select {
	case got := <-sub:
		if got.Source != models.SourceFallback {
			t.Fatalf("expected fallback source, got %s", got.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fallback snapshot delivered")
	}
	if atomic.LoadInt32(&api.pulls) == 0 {
		t.Fatal("expected REST pulls in fallback mode")
	}
}

func TestFeedManagerFallbackStopsWhenCredentialLapses(t *testing.T) {
	stream := newFakeStream()
	tokens := &fakeTokens{token: "tok", state: auth.StateValid}
	api := &fakeQuoteAPI{outcome: repository.OutcomeSuccess}
	m, clock := newTestManager(t, stream, api, tokens, &fakeReporter{}, FeedManagerConfig{
		ReevalInterval: 10 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		ReconnectEvery: time.Hour,
		StaleAfter:     10 * time.Second,
		FallbackAfter:  30 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })
	stream.ticks <- &models.Tick{Symbol: "NIFTY", Price: 1, Source: models.SourceLive}
	waitFor(t, time.Second, func() bool { _, ok := m.LatestQuote("NIFTY"); return ok })

	clock.Advance(31 * time.Second)
	if !m.RequestTransition(ModeStale, "test") || !m.RequestTransition(ModeFallback, "test") {
		t.Fatal("degradation transitions refused")
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&api.pulls) > 0 })

	// a lapsed credential must surface as disconnected, not a silent fallback
	tokens.set("tok", auth.StateExpired)
	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeDisconnected })
}

func TestFeedManagerFallbackRecoversToLive(t *testing.T) {
	stream := newFakeStream()
	tokens := &fakeTokens{token: "tok", state: auth.StateValid}
	api := &fakeQuoteAPI{outcome: repository.OutcomeSuccess}
	m, clock := newTestManager(t, stream, api, tokens, &fakeReporter{}, FeedManagerConfig{
		ReevalInterval: 10 * time.Millisecond,
		PollInterval:   time.Hour,
		ReconnectEvery: 10 * time.Millisecond,
		StaleAfter:     10 * time.Second,
		FallbackAfter:  30 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.State().Mode == ModeLive })
	stream.ticks <- &models.Tick{Symbol: "NIFTY", Price: 1, Source: models.SourceLive}
	waitFor(t, time.Second, func() bool { _, ok := m.LatestQuote("NIFTY"); return ok })

	clock.Advance(31 * time.Second)
	if !m.RequestTransition(ModeStale, "test") || !m.RequestTransition(ModeFallback, "test") {
		t.Fatal("degradation transitions refused")
	}
	waitFor(t, 2*time.Second, func() bool {
		st := m.State()
		return st.Mode == ModeLive && st.Channel == ChannelSocket
	})
}

package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/auth"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/internal/service/upstream"
	"MarketPulse/pkg/backoff"
	"MarketPulse/pkg/logger"
)

// Mode is the feed connection lifecycle state.
type Mode string

const (
	ModeDisconnected Mode = "disconnected"
	ModeConnecting   Mode = "connecting"
	ModeLive         Mode = "live"
	ModeStale        Mode = "stale"
	ModeFallback     Mode = "fallback"
)

// Channel names the transport currently carrying data.
type Channel string

const (
	ChannelSocket Channel = "socket"
	ChannelPoll   Channel = "poll"
	ChannelNone   Channel = "none"
)

// ConnState is the whole-object connection snapshot. Owned exclusively by
// the FeedManager; everyone else reads copies.
type ConnState struct {
	Channel             Channel
	Mode                Mode
	LastTick            time.Time
	ConsecutiveFailures int
}

// TokenSource supplies the current credential.
type TokenSource interface {
	Current() (string, auth.State)
}

// AuthReporter receives auth-classified failures for central handling.
type AuthReporter interface {
	ReportAuthFailure()
}

// FeedManagerConfig carries the connection policy. The thresholds are
// operational policy, not protocol requirements, so they are configuration.
type FeedManagerConfig struct {
	Symbols          []string
	ConnectGrace     time.Duration // avoid the high-failure window right after open
	PollInterval     time.Duration // fallback pull cadence
	ReevalInterval   time.Duration // gate re-check cadence while disconnected
	ReconnectEvery   time.Duration // push-channel retry cadence while in fallback
	StaleAfter       time.Duration
	FallbackAfter    time.Duration
	Retry            backoff.Policy
	SubscriberBuffer int
}

func (c *FeedManagerConfig) fillDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ReevalInterval <= 0 {
		c.ReevalInterval = 10 * time.Second
	}
	if c.ReconnectEvery <= 0 {
		c.ReconnectEvery = 15 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Second
	}
	if c.FallbackAfter <= 0 {
		c.FallbackAfter = 30 * time.Second
	}
	if c.Retry.Base == 0 {
		c.Retry = backoff.Default()
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 256
	}
}

// FeedManager owns the live data channel: push-first, pull-fallback. The
// calendar gates when it may connect, the auth machine gates whether, and
// the watchdog asks for degradation transitions which the manager
// re-validates before applying.
type FeedManager struct {
	stream   repository.MarketStream
	api      repository.QuoteAPI
	tokens   TokenSource
	reporter AuthReporter
	cal      *calendar.Calendar
	sink     repository.TickSink // optional
	metrics  repository.Metrics
	log      *logger.Logger
	now      func() time.Time
	cfg      FeedManagerConfig

	mu            sync.RWMutex
	st            ConnState
	subs          []chan models.Tick
	latest        map[string]models.Tick
	sessionCancel context.CancelFunc

	kick   chan struct{} // prod the gate wait after an auth/admin event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type FeedOption func(*FeedManager)

func FeedWithClock(now func() time.Time) FeedOption {
	return func(m *FeedManager) { m.now = now }
}

func FeedWithSink(sink repository.TickSink) FeedOption {
	return func(m *FeedManager) { m.sink = sink }
}

func NewFeedManager(stream repository.MarketStream, api repository.QuoteAPI,
	tokens TokenSource, reporter AuthReporter, cal *calendar.Calendar,
	cfg FeedManagerConfig, log *logger.Logger, metrics repository.Metrics,
	opts ...FeedOption) *FeedManager {

	cfg.fillDefaults()
	m := &FeedManager{
		stream:   stream,
		api:      api,
		tokens:   tokens,
		reporter: reporter,
		cal:      cal,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		cfg:      cfg,
		st:       ConnState{Channel: ChannelNone, Mode: ModeDisconnected},
		latest:   make(map[string]models.Tick),
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a copy of the connection snapshot.
func (m *FeedManager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

// LastTickAge reports time since the last published tick. Before the first
// tick it reports a very large age.
func (m *FeedManager) LastTickAge() time.Duration {
	m.mu.RLock()
	last := m.st.LastTick
	m.mu.RUnlock()
	if last.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return m.now().Sub(last)
}

// Subscribe returns a tick channel. Slow consumers drop ticks instead of
// blocking the feed. Downstream sees either live ticks or fallback
// snapshots, never silence while any channel works.
func (m *FeedManager) Subscribe() <-chan models.Tick {
	ch := make(chan models.Tick, m.cfg.SubscriberBuffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// LatestQuote returns the last published tick for a symbol.
func (m *FeedManager) LatestQuote(symbol string) (models.Tick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.latest[symbol]
	return t, ok
}

// Start launches the connect/receive loop.
func (m *FeedManager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

// Stop disconnects and waits for the loops to finish.
func (m *FeedManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	_ = m.stream.Close()
	m.wg.Wait()
	if m.sink != nil {
		_ = m.sink.Close()
	}
	m.setState(ChannelNone, ModeDisconnected, "stopped")
}

// OnAuthChange consumes the auth machine's fan-out. A fresh valid
// credential prods the gate wait; if the socket is already healthy nothing
// is forced, the new token is simply used on the next call.
func (m *FeedManager) OnAuthChange(s auth.Snapshot) {
	if s.State != auth.StateValid {
		return
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// ForceReconnect drops the current session and re-runs the connect gates
// immediately. Administrative hook used after an external re-authentication.
func (m *FeedManager) ForceReconnect() {
	m.mu.Lock()
	if m.sessionCancel != nil {
		m.sessionCancel()
	}
	m.mu.Unlock()
	_ = m.stream.Close()
	m.setState(ChannelNone, ModeDisconnected, "forced reconnect")
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// RequestTransition lets the watchdog ask for a degradation step. The
// manager re-validates the preconditions under its own lock so a tick that
// raced the request wins: an actually-fresh feed refuses to degrade.
func (m *FeedManager) RequestTransition(to Mode, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	age := time.Duration(1<<62 - 1)
	if !m.st.LastTick.IsZero() {
		age = m.now().Sub(m.st.LastTick)
	}

	switch to {
	case ModeStale:
		if m.st.Mode != ModeLive || age < m.cfg.StaleAfter {
			return false
		}
		m.setStateLocked(m.st.Channel, ModeStale, reason)
		return true
	case ModeFallback:
		if m.st.Mode != ModeStale || age < m.cfg.FallbackAfter {
			return false
		}
		m.setStateLocked(ChannelPoll, ModeFallback, reason)
		if m.sessionCancel != nil {
			m.sessionCancel()
		}
		return true
	default:
		return false
	}
}

func (m *FeedManager) run(ctx context.Context) {
	for ctx.Err() == nil {
		switch m.State().Mode {
		case ModeDisconnected:
			if !m.waitForGates(ctx) {
				return
			}
			m.setState(ChannelNone, ModeConnecting, "preconditions met")
		case ModeConnecting:
			m.connect(ctx)
		case ModeLive, ModeStale:
			m.session(ctx)
		case ModeFallback:
			m.fallback(ctx)
		}
	}
}

// gatesOK checks the two connect preconditions: session phase (with grace
// buffer) and credential validity.
func (m *FeedManager) gatesOK() bool {
	if _, state := m.tokens.Current(); state != auth.StateValid {
		return false
	}
	return m.cal.Connectable(m.now(), m.cfg.ConnectGrace)
}

// waitForGates blocks until both gates pass, re-evaluating on a timer
// instead of busy-retrying the upstream. Returns false on shutdown.
func (m *FeedManager) waitForGates(ctx context.Context) bool {
	if m.gatesOK() {
		return true
	}
	ticker := time.NewTicker(m.cfg.ReevalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		case <-m.kick:
		}
		if m.gatesOK() {
			return true
		}
	}
}

func (m *FeedManager) connect(ctx context.Context) {
	if !m.gatesOK() {
		m.setState(ChannelNone, ModeDisconnected, "gates closed")
		return
	}

	token, state := m.tokens.Current()
	if state != auth.StateValid {
		m.setState(ChannelNone, ModeDisconnected, "credential not valid")
		return
	}

	err := m.stream.Connect(ctx, token)
	if err == nil {
		err = m.stream.Subscribe(ctx, m.cfg.Symbols)
	}
	if err != nil {
		_ = m.stream.Close()
		if errors.Is(err, upstream.ErrAuthRejected) {
			// central handling; wait for a reload instead of hammering upstream
			m.reporter.ReportAuthFailure()
			m.metrics.RecordError("feed_auth")
			m.setState(ChannelNone, ModeDisconnected, "push channel rejected token")
			return
		}

		m.mu.Lock()
		m.st.ConsecutiveFailures++
		n := m.st.ConsecutiveFailures
		m.mu.Unlock()
		m.metrics.RecordError("feed_connect")
		m.log.Warn("push connect failed",
			logger.Int("consecutive", n), logger.Error(err))

		select {
		case <-ctx.Done():
		case <-time.After(m.cfg.Retry.Delay(n)):
		}
		return // stay Connecting; gates re-checked on next pass
	}

	m.mu.Lock()
	m.st.ConsecutiveFailures = 0
	m.mu.Unlock()
	m.setState(ChannelSocket, ModeLive, "push channel up")
}

// session consumes the push channel until it fails, the watchdog moves us
// to fallback, or the trading session ends.
func (m *FeedManager) session(ctx context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.sessionCancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.sessionCancel = nil
		m.mu.Unlock()
	}()

	ticks, errs := m.stream.Read(sctx)
	phaseCheck := time.NewTicker(m.cfg.ReevalInterval)
	defer phaseCheck.Stop()

	for {
		select {
		case <-sctx.Done():
			// stopped, forced, or degraded to fallback by the watchdog
			if m.State().Mode != ModeFallback {
				_ = m.stream.Close()
			}
			return

		case t, ok := <-ticks:
			if !ok {
				continue
			}
			if t == nil {
				continue
			}
			m.publish(ctx, *t)

		case err, ok := <-errs:
			if !ok || err == nil {
				continue
			}
			_ = m.stream.Close()
			m.metrics.RecordError("feed_read")
			m.log.Warn("push channel lost", logger.Error(err))
			m.mu.Lock()
			m.st.ConsecutiveFailures++
			m.mu.Unlock()
			m.setState(ChannelNone, ModeConnecting, "push channel lost")
			return

		case <-phaseCheck.C:
			if m.cal.PhaseAt(m.now()) != calendar.PhaseLive {
				_ = m.stream.Close()
				m.setState(ChannelNone, ModeDisconnected, "session over")
				return
			}
		}
	}
}

// fallback serves periodic REST pulls through the same downstream path
// while retrying the push channel in the background.
func (m *FeedManager) fallback(ctx context.Context) {
	_ = m.stream.Close()
	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()
	reconnect := time.NewTicker(m.cfg.ReconnectEvery)
	defer reconnect.Stop()

	for m.State().Mode == ModeFallback {
		select {
		case <-ctx.Done():
			return

		case <-poll.C:
			if m.cal.PhaseAt(m.now()) != calendar.PhaseLive {
				m.setState(ChannelNone, ModeDisconnected, "session over")
				return
			}
			m.pullOnce(ctx)

		case <-reconnect.C:
			if !m.gatesOK() {
				continue
			}
			token, _ := m.tokens.Current()
			if err := m.stream.Connect(ctx, token); err != nil {
				if errors.Is(err, upstream.ErrAuthRejected) {
					m.reporter.ReportAuthFailure()
					m.setState(ChannelNone, ModeDisconnected, "push channel rejected token")
					return
				}
				continue
			}
			if err := m.stream.Subscribe(ctx, m.cfg.Symbols); err != nil {
				_ = m.stream.Close()
				continue
			}
			m.setState(ChannelSocket, ModeLive, "push channel resumed")
			return
		}
	}
}

// pullOnce fetches one REST snapshot per tracked symbol.
func (m *FeedManager) pullOnce(ctx context.Context) {
	token, state := m.tokens.Current()
	if state != auth.StateValid {
		// a fallback that cannot pull is not a fallback; wait at the gates
		m.setState(ChannelNone, ModeDisconnected, "pull suppressed, credential "+string(state))
		return
	}
	for _, sym := range m.cfg.Symbols {
		t, outcome, err := m.api.Quote(ctx, token, sym)
		switch outcome {
		case repository.OutcomeSuccess:
			t.Source = models.SourceFallback
			m.publish(ctx, *t)
		case repository.OutcomeAuthFailure:
			m.reporter.ReportAuthFailure()
			m.setState(ChannelNone, ModeDisconnected, "pull rejected token")
			return
		case repository.OutcomeThrottled:
			// skip the rest of this cycle; the limiter already paces us
			m.metrics.RecordError("pull_throttled")
			return
		default:
			m.metrics.RecordError("pull_failed")
			m.log.Warn("fallback pull failed", logger.String("symbol", sym), logger.Error(err))
		}
	}
}

// publish is the single downstream path for push ticks and pulled
// snapshots alike.
func (m *FeedManager) publish(ctx context.Context, t models.Tick) {
	m.mu.Lock()
	m.st.LastTick = m.now()
	if m.st.Mode == ModeStale && t.Source == models.SourceLive {
		// a tick during STALE always moves us back to LIVE
		m.setStateLocked(ChannelSocket, ModeLive, "tick resumed")
	}
	m.latest[t.Symbol] = t
	subs := m.subs
	m.mu.Unlock()

	m.metrics.RecordTick(string(t.Source), t.Symbol)
	m.metrics.RecordLastPrice(t.Symbol, t.Price)

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
			// drop on backpressure
		}
	}

	if m.sink != nil {
		if err := m.sink.Publish(ctx, &t); err != nil {
			m.metrics.RecordError("sink")
		}
	}
}

func (m *FeedManager) setState(ch Channel, mode Mode, reason string) {
	m.mu.Lock()
	m.setStateLocked(ch, mode, reason)
	m.mu.Unlock()
}

// setStateLocked replaces the snapshot. Caller holds m.mu.
func (m *FeedManager) setStateLocked(ch Channel, mode Mode, reason string) {
	if m.st.Mode == mode && m.st.Channel == ch {
		return
	}
	next := m.st
	next.Channel = ch
	next.Mode = mode
	m.st = next
	m.metrics.SetConnectionMode(string(mode))
	m.log.Info("feed state",
		logger.String("mode", string(mode)),
		logger.String("channel", string(ch)),
		logger.String("reason", reason))
}

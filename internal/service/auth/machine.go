package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/credential"
	"MarketPulse/pkg/backoff"
	"MarketPulse/pkg/logger"
)

// State of the credential owned by the machine.
type State string

const (
	StateUnknown State = "unknown"
	StateValid   State = "valid"
	StateExpired State = "expired"
	StateInvalid State = "invalid"
)

// Snapshot is the whole-object credential view handed to readers. It is
// replaced wholesale on every transition, never patched in place.
type Snapshot struct {
	Token      string
	LoadedAt   time.Time
	VerifiedAt time.Time
	State      State
	SourceHash string
}

// Verifier performs the lightweight authenticated upstream call.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (repository.Outcome, error)
}

// Machine owns credential validity. It is the single consumer of watcher
// events and fans typed snapshots out to interested components, so one
// failed call anywhere downgrades the shared state for everyone.
type Machine struct {
	store    *credential.Store
	verifier Verifier
	log      *logger.Logger
	metrics  repository.Metrics
	now      func() time.Time

	validity       time.Duration // daily token validity window
	verifyInterval time.Duration
	retry          backoff.Policy

	cur atomic.Value // Snapshot

	mu   sync.Mutex // serializes transitions
	subs []func(Snapshot)
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithValidityWindow(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.validity = d
		}
	}
}

func WithVerifyInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.verifyInterval = d
		}
	}
}

func WithRetryPolicy(p backoff.Policy) Option {
	return func(m *Machine) { m.retry = p }
}

func NewMachine(store *credential.Store, verifier Verifier, log *logger.Logger, metrics repository.Metrics, opts ...Option) *Machine {
	m := &Machine{
		store:          store,
		verifier:       verifier,
		log:            log,
		metrics:        metrics,
		now:            time.Now,
		validity:       24 * time.Hour,
		verifyInterval: 5 * time.Minute,
		retry:          backoff.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cur.Store(Snapshot{State: StateUnknown})
	return m
}

// Current returns the token and its state. Callers must check the state
// before using the token for anything beyond best-effort attempts.
func (m *Machine) Current() (string, State) {
	s := m.Snapshot()
	return s.Token, s.State
}

// Snapshot returns the full credential snapshot.
func (m *Machine) Snapshot() Snapshot {
	return m.cur.Load().(Snapshot)
}

// OnChange registers a fan-out callback invoked after every snapshot swap.
// Register during wiring, before Start.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// HandleChange consumes a watcher event. Duplicate hashes are no-ops.
func (m *Machine) HandleChange(ctx context.Context, ch credential.Change) {
	if ch.Hash != "" && ch.Hash == m.Snapshot().SourceHash {
		return
	}
	if err := m.Reload(ctx); err != nil {
		m.log.Warn("credential reload after change failed", logger.Error(err))
	}
}

// Reload re-reads the credential from the store and atomically swaps in the
// new snapshot, then verifies it. Idempotent: reloading an unchanged value
// while already valid does nothing. In-flight requests holding the old token
// complete or fail independently.
func (m *Machine) Reload(ctx context.Context) error {
	m.mu.Lock()

	v, err := m.store.Read()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	hash := credential.HashValue(v)

	prev := m.Snapshot()
	if hash == prev.SourceHash && prev.State == StateValid {
		m.mu.Unlock()
		return nil
	}

	next := Snapshot{
		Token:      v,
		LoadedAt:   m.now(),
		State:      StateUnknown,
		SourceHash: hash,
	}
	m.swapLocked(next, "reload")
	m.mu.Unlock()
	m.notify(next)

	m.Verify(ctx)
	return nil
}

// Verify performs one authenticated upstream call and updates the state
// from the classified result. "Not yet verified" is a normal state, not an
// error; only transport problems leave the state untouched.
func (m *Machine) Verify(ctx context.Context) State {
	snap := m.Snapshot()
	if snap.Token == "" {
		return snap.State
	}

	outcome, err := m.verifier.VerifyToken(ctx, snap.Token)

	m.mu.Lock()

	// the credential may have been swapped while the call was in flight
	cur := m.Snapshot()
	if cur.SourceHash != snap.SourceHash {
		m.mu.Unlock()
		return cur.State
	}

	swapped := false
	switch outcome {
	case repository.OutcomeSuccess:
		cur.State = StateValid
		cur.VerifiedAt = m.now()
		m.swapLocked(cur, "verified")
		swapped = true
	case repository.OutcomeAuthFailure:
		// explicit rejection of a freshly loaded credential, not just stale
		cur.State = StateInvalid
		m.swapLocked(cur, "rejected")
		swapped = true
	default:
		m.log.Warn("verification inconclusive",
			logger.String("outcome", outcome.String()), logger.Error(err))
	}
	state := m.Snapshot().State
	m.mu.Unlock()

	if swapped {
		m.notify(cur)
	}
	return state
}

// ReportAuthFailure downgrades a valid/unknown credential to expired. Any
// consumer that sees an auth-classified failure reports it here instead of
// handling it locally.
func (m *Machine) ReportAuthFailure() {
	m.mu.Lock()

	cur := m.Snapshot()
	if cur.State == StateInvalid || cur.State == StateExpired {
		m.mu.Unlock()
		return
	}
	cur.State = StateExpired
	m.swapLocked(cur, "auth failure reported")
	m.mu.Unlock()
	m.notify(cur)
}

// Start runs the verification timer and the validity-window expiry check.
func (m *Machine) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Machine) run(ctx context.Context) {
	// initial load; an unreadable store here is not fatal, the watcher or
	// the admin reload hook will bring the credential in later
	if err := m.Reload(ctx); err != nil {
		m.log.Warn("initial credential load failed", logger.Error(err))
	}

	attempt := 0
	ticker := time.NewTicker(m.verifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.expireIfPastWindow()

		switch _, state := m.Current(); state {
		case StateValid, StateUnknown:
			m.Verify(ctx)
			attempt = 0
		case StateExpired:
			// the token on disk may have been rotated underneath us
			attempt++
			if err := m.Reload(ctx); err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.retry.Delay(attempt)):
				}
			}
		case StateInvalid:
			// wait for an external change event or forced reload
		}
	}
}

func (m *Machine) expireIfPastWindow() {
	m.mu.Lock()

	cur := m.Snapshot()
	if cur.State != StateValid || m.now().Sub(cur.LoadedAt) <= m.validity {
		m.mu.Unlock()
		return
	}
	cur.State = StateExpired
	m.swapLocked(cur, "validity window elapsed")
	m.mu.Unlock()
	m.notify(cur)
}

// swapLocked stores the snapshot. Caller holds m.mu and calls notify with
// the same snapshot after releasing it.
func (m *Machine) swapLocked(next Snapshot, reason string) {
	m.cur.Store(next)
	if m.metrics != nil {
		m.metrics.SetAuthState(string(next.State))
	}
	m.log.Info("auth state",
		logger.String("state", string(next.State)),
		logger.String("reason", reason))
}

// notify fans a swapped snapshot out with no lock held, so a subscriber is
// free to call back into the machine.
func (m *Machine) notify(s Snapshot) {
	m.mu.Lock()
	subs := append(([]func(Snapshot))(nil), m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

package auth

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/credential"
	"MarketPulse/pkg/logger"
)

// scriptedVerifier returns outcomes in order, then repeats the last one.
type scriptedVerifier struct {
	mu       sync.Mutex
	outcomes []repository.Outcome
	calls    int
}

func (v *scriptedVerifier) VerifyToken(_ context.Context, _ string) (repository.Outcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if len(v.outcomes) == 0 {
		return repository.OutcomeSuccess, nil
	}
	o := v.outcomes[0]
	if len(v.outcomes) > 1 {
		v.outcomes = v.outcomes[1:]
	}
	return o, nil
}

func newStore(t *testing.T, token string) *credential.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return credential.NewStore(path)
}

func TestReloadVerifiesAndSwaps(t *testing.T) {
	store := newStore(t, "tok-1")
	m := NewMachine(store, &scriptedVerifier{}, logger.Nop(), nil)

	if _, state := m.Current(); state != StateUnknown {
		t.Fatalf("expected unknown before reload, got %v", state)
	}
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	token, state := m.Current()
	if token != "tok-1" || state != StateValid {
		t.Fatalf("expected (tok-1, valid), got (%q, %v)", token, state)
	}
}

func TestReloadNeverPairsOldTokenWithValid(t *testing.T) {
	store := newStore(t, "tok-1")
	m := NewMachine(store, &scriptedVerifier{}, logger.Nop(), nil)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := os.WriteFile(store.Path(), []byte("tok-2"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	token, state := m.Current()
	if token == "tok-1" && state == StateValid {
		t.Fatalf("old token paired with valid after reload")
	}
	if token != "tok-2" {
		t.Fatalf("expected new token, got %q", token)
	}
}

func TestDuplicateReloadIsNoOp(t *testing.T) {
	store := newStore(t, "tok-1")
	v := &scriptedVerifier{}
	m := NewMachine(store, v, logger.Nop(), nil)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	before := v.calls

	// same content: no verification round-trip, no state churn
	m.HandleChange(context.Background(), credential.Change{Hash: m.Snapshot().SourceHash})
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v.calls != before {
		t.Fatalf("expected no extra verify calls, got %d", v.calls-before)
	}
}

func TestReportAuthFailureDowngrades(t *testing.T) {
	store := newStore(t, "tok-1")
	m := NewMachine(store, &scriptedVerifier{}, logger.Nop(), nil)
	_ = m.Reload(context.Background())

	m.ReportAuthFailure()
	if _, state := m.Current(); state != StateExpired {
		t.Fatalf("expected expired, got %v", state)
	}

	// reporting again is a no-op, and an invalid credential stays invalid
	m.ReportAuthFailure()
	if _, state := m.Current(); state != StateExpired {
		t.Fatalf("expected expired to stick, got %v", state)
	}
}

func TestVerifyRejectionMarksInvalid(t *testing.T) {
	store := newStore(t, "tok-1")
	v := &scriptedVerifier{outcomes: []repository.Outcome{repository.OutcomeAuthFailure}}
	m := NewMachine(store, v, logger.Nop(), nil)
	_ = m.Reload(context.Background())

	if _, state := m.Current(); state != StateInvalid {
		t.Fatalf("expected invalid after explicit rejection, got %v", state)
	}
}

func TestVerifyTransientKeepsState(t *testing.T) {
	store := newStore(t, "tok-1")
	v := &scriptedVerifier{outcomes: []repository.Outcome{
		repository.OutcomeSuccess,
		repository.OutcomeTransient,
	}}
	m := NewMachine(store, v, logger.Nop(), nil)
	_ = m.Reload(context.Background())

	m.Verify(context.Background())
	if _, state := m.Current(); state != StateValid {
		t.Fatalf("transient verify error must not downgrade, got %v", state)
	}
}

func TestValidityWindowExpiry(t *testing.T) {
	store := newStore(t, "tok-1")
	now := time.Date(2024, 10, 9, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewMachine(store, &scriptedVerifier{}, logger.Nop(), nil,
		WithClock(clock), WithValidityWindow(8*time.Hour))
	_ = m.Reload(context.Background())

	now = now.Add(9 * time.Hour)
	m.expireIfPastWindow()
	if _, state := m.Current(); state != StateExpired {
		t.Fatalf("expected expired past validity window, got %v", state)
	}
}

func TestFanOutOnSwap(t *testing.T) {
	store := newStore(t, "tok-1")
	m := NewMachine(store, &scriptedVerifier{}, logger.Nop(), nil)

	var mu sync.Mutex
	var states []State
	m.OnChange(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	_ = m.Reload(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[len(states)-1] != StateValid {
		t.Fatalf("expected fan-out ending in valid, got %v", states)
	}
}

func TestSubscriberMayCallBackIntoMachine(t *testing.T) {
	store := newStore(t, "tok-1")
	m := NewMachine(store, &scriptedVerifier{}, logger.Nop(), nil)

	// a consumer reacting to a swap by reporting its own auth failure must
	// not block the fan-out
	m.OnChange(func(s Snapshot) {
		if s.State == StateValid {
			m.ReportAuthFailure()
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Reload(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out blocked a subscriber calling back into the machine")
	}
	if _, state := m.Current(); state != StateExpired {
		t.Fatalf("expected the re-entrant report to land, got %v", state)
	}
}

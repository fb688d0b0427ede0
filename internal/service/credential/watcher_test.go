package credential

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"MarketPulse/pkg/logger"
)

func writeCred(t *testing.T, path, v string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(v), 0o600); err != nil {
		t.Fatalf("write credential: %v", err)
	}
}

func TestStoreReadAndHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeCred(t, path, "  tok-abc \n")

	s := NewStore(path)
	v, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != "tok-abc" {
		t.Fatalf("expected trimmed value, got %q", v)
	}
	h1, err := s.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != HashValue("tok-abc") {
		t.Fatalf("hash mismatch")
	}
}

func TestWatcherDetectsContentChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeCred(t, path, "tok-1")

	s := NewStore(path)
	w := NewWatcher(s, logger.Nop(),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
	)

	var mu sync.Mutex
	var changes []Change
	w.OnChange(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	writeCred(t, path, "tok-2")

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no change event within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes[0].Hash != HashValue("tok-2") {
		t.Fatalf("unexpected hash in change event")
	}
}

func TestWatcherIgnoresRewriteOfSameValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	writeCred(t, path, "tok-1")

	s := NewStore(path)
	w := NewWatcher(s, logger.Nop(),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
	)

	var mu sync.Mutex
	fired := 0
	w.OnChange(func(Change) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// same content rewritten must not notify
	writeCred(t, path, "tok-1")
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Fatalf("expected no change events, got %d", fired)
	}
}

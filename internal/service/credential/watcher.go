package credential

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"MarketPulse/pkg/logger"
)

// Change is emitted when the stored credential content changed.
type Change struct {
	Hash string
}

// Watcher detects external mutation of the credential store. It combines
// fsnotify events with a slow content poll; either path funnels through the
// same debounced hash comparison, so partial writes and editors that replace
// the file are both absorbed. An unreadable store is logged and retried,
// never fatal.
type Watcher struct {
	store        *Store
	log          *logger.Logger
	pollInterval time.Duration
	debounce     time.Duration

	mu       sync.Mutex
	lastHash string
	subs     []func(Change)
}

type WatcherOption func(*Watcher)

func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func NewWatcher(store *Store, log *logger.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:        store,
		log:          log,
		pollInterval: 5 * time.Second,
		debounce:     300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnChange registers a callback. Must be called before Start.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Start launches the watch loop. It returns immediately; the loop stops when
// ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if h, err := w.store.Hash(); err == nil {
		w.mu.Lock()
		w.lastHash = h
		w.mu.Unlock()
	}

	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	var events <-chan fsnotify.Event

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		// watch the directory, not the file: atomic replace recreates the inode
		if err := fw.Add(filepath.Dir(w.store.Path())); err == nil {
			events = fw.Events
			defer fw.Close()
		} else {
			w.log.Warn("credential watch failed, polling only", logger.Error(err))
			_ = fw.Close()
		}
	} else {
		w.log.Warn("fsnotify unavailable, polling only", logger.Error(err))
	}

	poll := time.NewTicker(w.pollInterval)
	defer poll.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.store.Path()) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
				debounceCh = debounce.C
			} else {
				debounce.Reset(w.debounce)
			}
		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			w.check()
		case <-poll.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	h, err := w.store.Hash()
	if err != nil {
		// a previously loaded credential may still be valid; keep retrying
		w.log.Warn("credential store unreadable", logger.Error(err))
		return
	}

	w.mu.Lock()
	if h == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.lastHash = h
	subs := make([]func(Change), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	w.log.Info("credential change detected", logger.String("hash", h[:12]))
	for _, fn := range subs {
		fn(Change{Hash: h})
	}
}

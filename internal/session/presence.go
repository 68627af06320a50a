package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"casper-chat/internal/observability"
	"casper-chat/pkg/logger"
)

const presenceWriteTimeout = 5 * time.Second

type presenceUpdate struct {
	username string
	status   string
	ip       string
}

type presenceStore interface {
	SetUserPresence(ctx context.Context, username, status, ip string) error
}

// presenceWriter applies presence updates to the store one at a time in
// enqueue order. Enqueue never blocks.
type presenceWriter struct {
	store   presenceStore
	mu      sync.Mutex
	pending []presenceUpdate
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	started atomic.Bool
	once    sync.Once
}

func newPresenceWriter(store presenceStore) *presenceWriter {
	return &presenceWriter{
		store:   store,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (w *presenceWriter) enqueue(u presenceUpdate) {
	w.mu.Lock()
	w.pending = append(w.pending, u)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *presenceWriter) start() {
	if w.started.CompareAndSwap(false, true) {
		go w.run()
	}
}

func (w *presenceWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *presenceWriter) drain() {
	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, u := range batch {
			w.apply(u)
		}
	}
}

func (w *presenceWriter) apply(u presenceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()
	if err := w.store.SetUserPresence(ctx, u.username, u.status, u.ip); err != nil {
		observability.IncPresenceWriteError()
		logger.Error("Error persisting presence %s for %s: %v", u.status, u.username, err)
	}
}

// stop drains what is queued and waits for the writer to exit. A writer
// that never started drains on the caller's goroutine.
func (w *presenceWriter) stop(ctx context.Context) error {
	w.once.Do(func() { close(w.done) })
	if w.started.CompareAndSwap(false, true) {
		w.drain()
		close(w.stopped)
	}
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

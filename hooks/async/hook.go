// Package asynchook moves Hooks calls off the store's hot path onto a small
// worker pool. Events are dropped when the queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{CoalescedEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := swrcache.New[Todo](swrcache.Options[Todo]{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/swrcache"
)

type Hooks struct {
	inner   swrcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(inner swrcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full
// or the hooks were closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchFailed(k string, err error) { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) FetchCoalesced(k string)         { h.try(func() { h.inner.FetchCoalesced(k) }) }
func (h *Hooks) FetchCanceled(k string, superseded bool) {
	h.try(func() { h.inner.FetchCanceled(k, superseded) })
}
func (h *Hooks) StaleWriteDiscarded(k string, observed, current uint64) {
	h.try(func() { h.inner.StaleWriteDiscarded(k, observed, current) })
}
func (h *Hooks) MutationRolledBack(k string, err error) {
	h.try(func() { h.inner.MutationRolledBack(k, err) })
}
func (h *Hooks) Evicted(k string, retained bool) { h.try(func() { h.inner.Evicted(k, retained) }) }
func (h *Hooks) RetainedRejected(sk, reason string) {
	h.try(func() { h.inner.RetainedRejected(sk, reason) })
}
func (h *Hooks) ProviderSetRejected(sk string) { h.try(func() { h.inner.ProviderSetRejected(sk) }) }

package swrcache

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
)

// flight is one fetch for one key. All fields except done are guarded by
// Store.mu until done is closed; after that they are read-only.
type flight[V any] struct {
	done     chan struct{}
	cancel   context.CancelFunc
	observed uint64 // revision when the fetch started
	prior    Status // status to restore if the result is dropped

	next     *flight[V] // set when superseded by a refetch
	canceled bool
	entry    Entry[V]
	err      error
}

// Query binds fetch to key and returns the entry once a fetch has settled.
// Concurrent queries for the same key (resource parts and window) share one
// fetch. A nil fetch reuses the fetcher bound by a previous Query.
//
// The returned error is a *FetchError when the fetch failed (the entry keeps
// its last good value), ErrCanceled when the fetch was canceled by key, or
// ctx.Err() when the caller stopped waiting. The fetch itself runs on its own
// timeout and is not tied to ctx.
func (s *Store[V]) Query(ctx context.Context, key Key, fetch Fetcher[V]) (Entry[V], error) {
	if key.IsZero() {
		return Entry[V]{}, precondition("query", "", "zero key")
	}
	if w, ok := key.Window(); ok {
		if err := w.validate("query"); err != nil {
			return Entry[V]{}, err
		}
	}
	id := key.String()
	s.warm(ctx, key)

	var parent opentracing.SpanContext
	if sp := opentracing.SpanFromContext(ctx); sp != nil {
		parent = sp.Context()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry[V]{}, ErrClosed
	}
	r := s.ensureLocked(key)
	if fetch != nil {
		r.fetch = fetch
	}
	if r.fetch == nil {
		s.mu.Unlock()
		return Entry[V]{}, precondition("query", id, "no fetcher bound")
	}

	f := r.flight
	if f != nil {
		s.mu.Unlock()
		s.hooks.FetchCoalesced(id)
		return s.wait(ctx, key, f)
	}
	f, start := s.startFlightLocked(r, parent)
	n := r.notification()
	s.mu.Unlock()

	deliver(n)
	go start()
	return s.wait(ctx, key, f)
}

// Refetch queries key with its bound fetcher.
func (s *Store[V]) Refetch(ctx context.Context, key Key) (Entry[V], error) {
	return s.Query(ctx, key, nil)
}

// Cancel aborts the in-flight fetch for key, if any. Waiters receive
// ErrCanceled and the entry returns to the status it had before the fetch.
func (s *Store[V]) Cancel(key Key) bool {
	s.mu.Lock()
	r, ok := s.records[key.String()]
	if !ok || !s.cancelFlightLocked(r, ErrCanceled) {
		s.mu.Unlock()
		return false
	}
	n := r.notification()
	s.mu.Unlock()

	deliver(n)
	return true
}

func (s *Store[V]) cancelFlightLocked(r *record[V], err error) bool {
	f := r.flight
	if f == nil {
		return false
	}
	r.flight = nil
	r.status = f.prior

	f.canceled = true
	f.entry = r.snapshot()
	f.err = err
	f.cancel()
	close(f.done)

	s.hooks.FetchCanceled(r.key.String(), false)
	return true
}

// startFlightLocked installs a new flight on r, superseding any running one,
// and returns the function that performs it. The caller runs it after
// releasing the lock.
func (s *Store[V]) startFlightLocked(r *record[V], parent opentracing.SpanContext) (*flight[V], func()) {
	fctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	f := &flight[V]{
		done:   make(chan struct{}),
		cancel: cancel,
		prior:  r.status,
	}
	if old := r.flight; old != nil {
		f.prior = old.prior
		old.canceled = true
		old.next = f
		old.cancel()
		close(old.done)
		s.hooks.FetchCanceled(r.key.String(), true)
	}
	f.observed = r.rev
	r.flight = f
	r.status = StatusFetching

	fetch, key := r.fetch, r.key
	return f, func() {
		defer cancel()
		span := s.startSpan("swrcache.fetch", key, parent)
		res, err := fetch(opentracing.ContextWithSpan(fctx, span), key)
		finishSpan(span, err)
		s.settleFlight(r, f, res, err)
	}
}

func (s *Store[V]) settleFlight(r *record[V], f *flight[V], res Result[V], ferr error) {
	id := r.key.String()

	s.mu.Lock()
	if f.canceled {
		s.mu.Unlock()
		s.log.Debug("fetch result dropped (canceled)", Fields{"key": id})
		return
	}
	r.flight = nil

	failed := false
	switch {
	case r.rev != f.observed:
		// a write landed while the fetch ran; it wins over the result or error
		r.status = f.prior
		if r.hasValue && r.err == nil {
			r.status = StatusSuccess
		}
		s.hooks.StaleWriteDiscarded(id, f.observed, r.rev)
	case ferr != nil:
		failed = true
		r.status = StatusError
		r.err = &FetchError{Key: id, Err: ferr}
		f.err = r.err
		s.hooks.FetchFailed(id, ferr)
	default:
		r.write(res.Data, s.now())
		r.status = StatusSuccess
		r.err = nil
		r.paging = nil
		if res.Paging != nil {
			p := *res.Paging
			r.paging = &p
		}
	}
	n := r.notification()
	f.entry = n.entry
	close(f.done)
	s.mu.Unlock()

	if failed {
		s.log.Warn("fetch failed", Fields{"key": id, "err": ferr})
	}
	deliver(n)
}

// wait blocks until f (or the flight that superseded it) settles.
func (s *Store[V]) wait(ctx context.Context, key Key, f *flight[V]) (Entry[V], error) {
	for {
		select {
		case <-f.done:
			if f.next != nil {
				f = f.next
				continue
			}
			return f.entry, f.err
		case <-ctx.Done():
			e, _ := s.Get(key)
			return e, ctx.Err()
		}
	}
}

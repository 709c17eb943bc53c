package swrcache

import (
	"context"
	"sync"
	"testing"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
	pr "github.com/unkn0wn-root/swrcache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	reject bool
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	p.m[key] = memEntry{v: v}
	p.mu.Unlock()
}

// recHooks records hook calls by name.
type recHooks struct {
	NopHooks
	mu     sync.Mutex
	calls  map[string]int
	reason []string
}

func newRecHooks() *recHooks { return &recHooks{calls: map[string]int{}} }

func (h *recHooks) inc(name string) {
	h.mu.Lock()
	h.calls[name]++
	h.mu.Unlock()
}

func (h *recHooks) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func (h *recHooks) FetchFailed(string, error)                  { h.inc("failed") }
func (h *recHooks) FetchCoalesced(string)                      { h.inc("coalesced") }
func (h *recHooks) StaleWriteDiscarded(string, uint64, uint64) { h.inc("discarded") }
func (h *recHooks) MutationRolledBack(string, error)           { h.inc("rolledback") }
func (h *recHooks) Evicted(string, bool)                       { h.inc("evicted") }
func (h *recHooks) ProviderSetRejected(string)                 { h.inc("setrejected") }

func (h *recHooks) FetchCanceled(_ string, superseded bool) {
	if superseded {
		h.inc("superseded")
		return
	}
	h.inc("canceled")
}

func (h *recHooks) RetainedRejected(_ string, reason string) {
	h.mu.Lock()
	h.calls["rejected"]++
	h.reason = append(h.reason, reason)
	h.mu.Unlock()
}

type todo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func newTestStore[V any](t *testing.T, opt func(*Options[V])) *Store[V] {
	t.Helper()
	var opts Options[V]
	if opt != nil {
		opt(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func newTodoStore(t *testing.T, opt func(*Options[todo])) *Store[todo] {
	t.Helper()
	return newTestStore(t, func(o *Options[todo]) {
		o.Codec = c.JSON[todo]{}
		if opt != nil {
			opt(o)
		}
	})
}

// gate is a controllable fetcher: each call blocks until release.
type gate[V any] struct {
	mu      sync.Mutex
	calls   int
	exited  int
	started chan Key
	release chan result[V]
}

type result[V any] struct {
	res Result[V]
	err error
}

func newGate[V any]() *gate[V] {
	return &gate[V]{started: make(chan Key, 16), release: make(chan result[V], 16)}
}

func (g *gate[V]) fetch(ctx context.Context, k Key) (Result[V], error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.started <- k
	defer func() {
		g.mu.Lock()
		g.exited++
		g.mu.Unlock()
	}()
	select {
	case r := <-g.release:
		return r.res, r.err
	case <-ctx.Done():
		return Result[V]{}, ctx.Err()
	}
}

func (g *gate[V]) n() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *gate[V]) returned() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exited
}

func (g *gate[V]) awaitStart(t *testing.T) Key {
	t.Helper()
	select {
	case k := <-g.started:
		return k
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not start")
		return Key{}
	}
}

func (g *gate[V]) ok(v V) { g.release <- result[V]{res: Result[V]{Data: v}} }

func (g *gate[V]) okPaged(v V, p Paging) { g.release <- result[V]{res: Result[V]{Data: v, Paging: &p}} }

func (g *gate[V]) fail(err error) { g.release <- result[V]{err: err} }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

type queryResult[V any] struct {
	e   Entry[V]
	err error
}

func goQuery[V any](s *Store[V], k Key, f Fetcher[V]) <-chan queryResult[V] {
	ch := make(chan queryResult[V], 1)
	go func() {
		e, err := s.Query(context.Background(), k, f)
		ch <- queryResult[V]{e, err}
	}()
	return ch
}

func recv[V any](t *testing.T, ch <-chan queryResult[V]) queryResult[V] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return")
		return queryResult[V]{}
	}
}

package swrcache

import (
	"context"
	"sync"
)

// Pager walks the pages of one paginated resource. Each window is its own
// cache entry (base key + window); the pager holds a subscription on the
// current window only.
type Pager[V any] struct {
	store    *Store[V]
	base     Key
	fetch    Fetcher[V]
	listener func(Entry[V])

	mu     sync.Mutex
	window Window
	sub    *Subscription
	closed bool
}

// NewPager subscribes listener (may be nil) to base at window w. It does not
// fetch; call Load.
func (s *Store[V]) NewPager(base Key, fetch Fetcher[V], w Window, listener func(Entry[V])) (*Pager[V], error) {
	if base.IsZero() {
		return nil, precondition("pager", "", "zero key")
	}
	if fetch == nil {
		return nil, precondition("pager", base.String(), "nil fetcher")
	}
	if err := w.validate("pager"); err != nil {
		return nil, err
	}
	base = base.Base()
	sub, err := s.Subscribe(base.WithWindow(w), listener)
	if err != nil {
		return nil, err
	}
	return &Pager[V]{
		store:    s,
		base:     base,
		fetch:    fetch,
		listener: listener,
		window:   w,
		sub:      sub,
	}, nil
}

// Load queries the current window.
func (p *Pager[V]) Load(ctx context.Context) (Entry[V], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Entry[V]{}, ErrClosed
	}
	key := p.sub.Key
	p.mu.Unlock()
	return p.store.Query(ctx, key, p.fetch)
}

// SetPageIndex moves to page i and fetches it. i < 0 is rejected with a
// *PreconditionError; the window stays as it was and nothing is fetched.
func (p *Pager[V]) SetPageIndex(ctx context.Context, i int) (Entry[V], error) {
	return p.setWindow(ctx, "setPageIndex", func(w Window) Window {
		w.PageIndex = i
		return w
	})
}

// SetPageSize changes the page size and fetches the resulting window. The page
// index is kept. n <= 0 is rejected like a negative index.
func (p *Pager[V]) SetPageSize(ctx context.Context, n int) (Entry[V], error) {
	return p.setWindow(ctx, "setPageSize", func(w Window) Window {
		w.PageSize = n
		return w
	})
}

// Move shifts the page index by delta.
func (p *Pager[V]) Move(ctx context.Context, delta int) (Entry[V], error) {
	return p.setWindow(ctx, "move", func(w Window) Window { return w.Move(delta) })
}

// Next moves one page forward. When the last fetch reported no next page the
// call is rejected without fetching.
func (p *Pager[V]) Next(ctx context.Context) (Entry[V], error) {
	if pg, ok := p.Paging(); ok && !pg.HasNextPage {
		return Entry[V]{}, precondition("next", p.Key().String(), "no next page")
	}
	return p.Move(ctx, 1)
}

func (p *Pager[V]) Prev(ctx context.Context) (Entry[V], error) {
	return p.Move(ctx, -1)
}

func (p *Pager[V]) setWindow(ctx context.Context, op string, next func(Window) Window) (Entry[V], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Entry[V]{}, ErrClosed
	}
	w := next(p.window)
	if err := w.validate(op); err != nil {
		p.mu.Unlock()
		return Entry[V]{}, err
	}
	if w == p.window {
		key := p.sub.Key
		p.mu.Unlock()
		e, _ := p.store.Get(key)
		return e, nil
	}
	sub, err := p.store.Subscribe(p.base.WithWindow(w), p.listener)
	if err != nil {
		p.mu.Unlock()
		return Entry[V]{}, err
	}
	old := p.sub
	p.sub, p.window = sub, w
	p.mu.Unlock()

	old.Close()
	return p.store.Query(ctx, sub.Key, p.fetch)
}

func (p *Pager[V]) Window() Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window
}

// Key is the cache key of the current window.
func (p *Pager[V]) Key() Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub.Key
}

// Entry returns the current window's entry; the zero Entry when it has been
// evicted.
func (p *Pager[V]) Entry() Entry[V] {
	e, _ := p.store.Get(p.Key())
	return e
}

// Paging reports the paging metadata of the last successful fetch of the
// current window. ok=false until one has completed.
func (p *Pager[V]) Paging() (Paging, bool) {
	e := p.Entry()
	if e.Paging == nil {
		return Paging{}, false
	}
	return *e.Paging, true
}

// Close releases the current window's subscription.
func (p *Pager[V]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sub := p.sub
	p.mu.Unlock()
	sub.Close()
}

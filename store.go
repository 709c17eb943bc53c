package swrcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	opentracing "github.com/opentracing/opentracing-go"

	c "github.com/unkn0wn-root/swrcache/codec"
	pr "github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/revstore"
)

// Store is the single source of truth for cached entries of type V.
// Every exported operation is one critical section: readers never observe a
// half-applied value/status pair, and no store operation waits on I/O.
type Store[V any] struct {
	mu        sync.Mutex
	records   map[string]*record[V]
	mutations map[string]*keyMutations
	closed    bool

	ns       string
	codec    c.Codec[V]
	provider pr.Provider
	revs     *revstore.Local
	log      Logger
	hooks    Hooks
	tracer   opentracing.Tracer
	now      func() time.Time

	fetchTimeout  time.Duration
	evictAfter    time.Duration
	sweepInterval time.Duration
	retainTTL     time.Duration

	// background sweep
	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Subscription marks a component as depending on one entry. Entries with at
// least one subscription are never evicted and are refetched by MarkStale.
type Subscription struct {
	ID  uuid.UUID
	Key Key

	once   sync.Once
	cancel func()
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Get returns a snapshot of the entry for key. ok=false means no entry exists,
// which is distinct from an entry whose Status is StatusFetching.
func (s *Store[V]) Get(key Key) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key.String()]
	if !ok {
		return Entry[V]{}, false
	}
	return r.snapshot(), true
}

// Revision returns the current revision of key for use with SetWithRevision.
// Keys without an entry report their retired revision (0 if never seen).
func (s *Store[V]) Revision(key Key) uint64 {
	id := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		return r.rev
	}
	return s.revs.Snapshot(id)
}

// Set replaces the value for key, bumps its revision and clears staleness and
// the last fetch error. A running fetch keeps its status (its result will be
// discarded); an idle entry becomes StatusSuccess. The entry is created if absent.
func (s *Store[V]) Set(key Key, v V) (Entry[V], error) {
	if key.IsZero() {
		return Entry[V]{}, precondition("set", "", "zero key")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry[V]{}, ErrClosed
	}
	r := s.ensureLocked(key)
	s.setLocked(r, v)
	n := r.notification()
	s.mu.Unlock()

	deliver(n)
	return n.entry, nil
}

// SetWithRevision writes v only if the revision of key still equals observed
// (see Revision). ok=false means the write was skipped because another write
// landed first.
func (s *Store[V]) SetWithRevision(key Key, v V, observed uint64) (Entry[V], bool, error) {
	if key.IsZero() {
		return Entry[V]{}, false, precondition("set", "", "zero key")
	}
	id := key.String()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry[V]{}, false, ErrClosed
	}
	r, exists := s.records[id]
	current := s.revs.Snapshot(id)
	if exists {
		current = r.rev
	}
	if current != observed {
		var e Entry[V]
		if exists {
			e = r.snapshot()
		}
		s.mu.Unlock()
		s.log.Debug("SetWithRevision skipped (revision moved)", Fields{"key": id, "obs": observed, "rev": current})
		return e, false, nil
	}
	r = s.ensureLocked(key)
	s.setLocked(r, v)
	n := r.notification()
	s.mu.Unlock()

	deliver(n)
	return n.entry, true, nil
}

// MarkStale flags every entry whose resource parts start with prefix as stale,
// keeping its value readable (stale-while-revalidate). Entries with at least
// one subscriber, or with a fetch already in flight, are refetched in the
// background. It returns the number of matching entries.
func (s *Store[V]) MarkStale(prefix ...string) int {
	return s.expire(prefix, false)
}

// Invalidate is MarkStale that refetches every matching entry with a bound
// fetcher, regardless of subscribers. Use it for cross-cutting server changes.
func (s *Store[V]) Invalidate(prefix ...string) int {
	return s.expire(prefix, true)
}

func (s *Store[V]) expire(prefix []string, force bool) int {
	var (
		notes  []notification[V]
		starts []func()
	)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	notes, starts = s.expireLocked(prefix, force, notes, starts)
	s.mu.Unlock()

	if len(notes) > 0 {
		s.log.Debug("entries expired", Fields{"prefix": prefix, "matched": len(notes), "refetch": len(starts), "force": force})
	}
	deliver(notes...)
	for _, start := range starts {
		go start()
	}
	return len(notes)
}

// expireLocked marks matching entries stale and installs their refetch
// flights. The returned start funcs must run after s.mu is released.
func (s *Store[V]) expireLocked(prefix []string, force bool, notes []notification[V], starts []func()) ([]notification[V], []func()) {
	for _, r := range s.records {
		if !r.key.HasPrefix(prefix...) {
			continue
		}
		r.stale = true
		r.rev++
		if r.fetch != nil && (force || len(r.subs) > 0 || r.flight != nil) {
			_, start := s.startFlightLocked(r, nil)
			starts = append(starts, start)
		}
		notes = append(notes, r.notification())
	}
	return notes, starts
}

// Subscribe registers fn (which may be nil for pure reference counting) for
// every accepted change of key and creates the entry if needed. fn runs on
// the goroutine that made the change, outside the store lock; compare
// Entry.Revision to drop out-of-order deliveries.
func (s *Store[V]) Subscribe(key Key, fn func(Entry[V])) (*Subscription, error) {
	if key.IsZero() {
		return nil, precondition("subscribe", "", "zero key")
	}
	id := uuid.New()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	r := s.ensureLocked(key)
	r.subs = append(r.subs, subscriber[V]{id: id, fn: fn})
	r.idleSince = time.Time{}
	s.mu.Unlock()

	sk := key.String()
	return &Subscription{
		ID:     id,
		Key:    key,
		cancel: func() { s.unsubscribe(sk, id) },
	}, nil
}

func (s *Store[V]) unsubscribe(id string, sub uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return
	}
	for i, x := range r.subs {
		if x.id == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			break
		}
	}
	if len(r.subs) == 0 {
		r.idleSince = s.now()
	}
}

// Remove drops the entry for key immediately, canceling any in-flight fetch.
// Its revision is retired so a re-created entry continues the sequence.
func (s *Store[V]) Remove(key Key) bool {
	id := key.String()
	s.mu.Lock()
	r, ok := s.records[id]
	if ok {
		s.cancelFlightLocked(r, ErrCanceled)
		delete(s.records, id)
		s.revs.Retire(id, r.rev)
	}
	s.mu.Unlock()
	return ok
}

// Keys returns the keys of all live entries, sorted by their string form.
func (s *Store[V]) Keys() []Key {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.records))
	for _, r := range s.records {
		keys = append(keys, r.key)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close cancels in-flight fetches, stops the sweeper and closes the
// retained-tier provider. Live entries are not retained: retired revisions
// live in this process only. Running mutations still settle.
func (s *Store[V]) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, r := range s.records {
			s.cancelFlightLocked(r, ErrClosed)
		}
		s.mu.Unlock()

		if s.stopCh != nil {
			close(s.stopCh)
			s.wg.Wait()
			s.ticker.Stop()
		}
		_ = s.revs.Close()
		if s.provider != nil {
			err = s.provider.Close(ctx)
		}
	})
	return err
}

func (s *Store[V]) setLocked(r *record[V], v V) {
	r.write(v, s.now())
	r.err = nil
	if r.status == StatusIdle || r.status == StatusError {
		r.status = StatusSuccess
	}
}

func (s *Store[V]) ensureLocked(key Key) *record[V] {
	id := key.String()
	r, ok := s.records[id]
	if !ok {
		r = &record[V]{
			key:       key,
			rev:       s.revs.Snapshot(id), // continue a retired sequence
			idleSince: s.now(),
		}
		s.records[id] = r
	}
	return r
}

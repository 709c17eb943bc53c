package swrcache

import (
	"fmt"
	"time"

	opentracing "github.com/opentracing/opentracing-go"

	c "github.com/unkn0wn-root/swrcache/codec"
	pr "github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/revstore"
)

// Options tune a Store. The zero value is a working in-memory store that
// never evicts.
type Options[V any] struct {
	// Codec deep-copies mutation snapshots (byte-exact rollback even when an
	// optimistic update mutates V in place) and encodes retained-tier frames.
	// nil => snapshots are copied by assignment and the retained tier is off.
	Codec c.Codec[V]

	// Provider receives evicted entries and revives them as stale on the next
	// query. Requires Codec.
	Provider pr.Provider

	Namespace         string             // retained-tier keyspace; "" => "default"
	Logger            Logger             // if nil, NopLogger is used
	Hooks             Hooks              // if nil, NopHooks is used
	Tracer            opentracing.Tracer // if nil, opentracing.NoopTracer
	FetchTimeout      time.Duration      // per fetch; 0 => 30s
	EvictAfter        time.Duration      // idle time before sweep eviction; 0 => never evict
	SweepInterval     time.Duration      // 0 => 1m
	RevisionRetention time.Duration      // how long retired revisions are kept; 0 => 24h
	RetainTTL         time.Duration      // retained-tier TTL; 0 => 10m
}

// New constructs an independent Store. Stores share nothing; pass the
// returned handle to every component that reads or writes the same data.
func New[V any](opts Options[V]) (*Store[V], error) {
	if opts.Provider != nil && opts.Codec == nil {
		return nil, fmt.Errorf("swrcache: provider requires a codec")
	}
	if opts.FetchTimeout < 0 || opts.EvictAfter < 0 || opts.SweepInterval < 0 ||
		opts.RevisionRetention < 0 || opts.RetainTTL < 0 {
		return nil, fmt.Errorf("swrcache: durations must not be negative")
	}

	s := &Store[V]{
		records:   make(map[string]*record[V]),
		mutations: make(map[string]*keyMutations),
		codec:     opts.Codec,
		provider:  opts.Provider,
		now:       time.Now,
	}

	// defaults
	s.ns = coalesce(opts.Namespace, defaultNamespace)
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.tracer = coalesce[opentracing.Tracer](opts.Tracer, opentracing.NoopTracer{})
	s.fetchTimeout = coalesce(opts.FetchTimeout, defaultFetchTimeout)
	s.sweepInterval = coalesce(opts.SweepInterval, defaultSweepInterval)
	s.retainTTL = coalesce(opts.RetainTTL, defaultRetainTTL)
	s.evictAfter = opts.EvictAfter

	retention := coalesce(opts.RevisionRetention, defaultRevisionRetention)
	s.revs = revstore.NewLocal(s.sweepInterval, retention)

	if s.evictAfter > 0 {
		s.ticker = time.NewTicker(s.sweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s, nil
}

package swrcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store calls them on hot paths, sometimes while holding its lock.
type Hooks interface {
	// A fetch failed; the entry kept its last good value.
	FetchFailed(key string, err error)

	// A query joined an identical fetch that was already in flight.
	FetchCoalesced(key string)

	// An in-flight fetch was canceled by key (mutation, Cancel) or
	// superseded by a refetch (MarkStale/Invalidate).
	FetchCanceled(key string, superseded bool)

	// A fetch result was dropped because the revision moved while it ran.
	StaleWriteDiscarded(key string, observed, current uint64)

	// A remote mutation failed and the entry was restored to its snapshot.
	MutationRolledBack(key string, err error)

	// An idle entry was evicted by the sweeper; retained reports whether
	// its value was written to the retained-tier provider.
	Evicted(key string, retained bool)

	// A retained-tier frame was dropped on read.
	// reason ∈ {"corrupt", "revision_mismatch", "value_decode"}
	RetainedRejected(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchFailed(string, error)                  {}
func (NopHooks) FetchCoalesced(string)                      {}
func (NopHooks) FetchCanceled(string, bool)                 {}
func (NopHooks) StaleWriteDiscarded(string, uint64, uint64) {}
func (NopHooks) MutationRolledBack(string, error)           {}
func (NopHooks) Evicted(string, bool)                       {}
func (NopHooks) RetainedRejected(string, string)            {}
func (NopHooks) ProviderSetRejected(string)                 {}

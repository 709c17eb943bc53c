package swrcache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the fetch status of an entry.
type Status uint8

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Paging is the paging metadata reported by the last successful fetch.
type Paging struct {
	TotalItems      int  `json:"totalItems"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// Result is what a Fetcher returns for one key.
type Result[V any] struct {
	Data   V
	Paging *Paging
}

// Fetcher loads the value for key. It is bound to the key by Store.Query and
// reused for background refetches.
type Fetcher[V any] func(ctx context.Context, key Key) (Result[V], error)

// Entry is an immutable snapshot of a cache entry.
type Entry[V any] struct {
	Key         Key
	Value       V
	HasValue    bool
	Revision    uint64
	Status      Status
	Stale       bool
	Paging      *Paging
	Err         error // last fetch error while Status == StatusError
	UpdatedAt   time.Time
	Subscribers int
}

type subscriber[V any] struct {
	id uuid.UUID
	fn func(Entry[V])
}

// record is the mutable arena slot behind an Entry. Only touched under Store.mu.
type record[V any] struct {
	key       Key
	value     V
	hasValue  bool
	rev       uint64
	status    Status
	stale     bool
	paging    *Paging
	err       error
	updatedAt time.Time

	fetch     Fetcher[V]
	flight    *flight[V]
	subs      []subscriber[V]
	idleSince time.Time
}

func (r *record[V]) snapshot() Entry[V] {
	e := Entry[V]{
		Key:         r.key,
		Value:       r.value,
		HasValue:    r.hasValue,
		Revision:    r.rev,
		Status:      r.status,
		Stale:       r.stale,
		Err:         r.err,
		UpdatedAt:   r.updatedAt,
		Subscribers: len(r.subs),
	}
	if r.paging != nil {
		p := *r.paging
		e.Paging = &p
	}
	return e
}

// write is the single accepted-write transition: new value, new revision, fresh.
func (r *record[V]) write(v V, now time.Time) {
	r.value = v
	r.hasValue = true
	r.rev++
	r.stale = false
	r.updatedAt = now
}

// notification pairs a snapshot with the listeners that must see it.
type notification[V any] struct {
	entry     Entry[V]
	listeners []func(Entry[V])
}

func (r *record[V]) notification() notification[V] {
	n := notification[V]{entry: r.snapshot()}
	for _, s := range r.subs {
		if s.fn != nil {
			n.listeners = append(n.listeners, s.fn)
		}
	}
	return n
}

func deliver[V any](notes ...notification[V]) {
	for _, n := range notes {
		for _, fn := range n.listeners {
			fn(n.entry)
		}
	}
}

// Package provider defines the retained-tier storage used by swrcache for
// evicted entries.
//
// When an idle entry is swept out of the in-memory arena, the store encodes its
// value with the configured codec, frames it together with its revision and
// paging metadata, and writes the frame to a Provider. A later query for the
// same key revives the frame as a stale entry (served while the refetch runs)
// if and only if its revision still matches the store's retired revision.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. The keyspace
// "swr:<ns>:" is owned by swrcache; foreign values under it are treated as
// corruption and deleted.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

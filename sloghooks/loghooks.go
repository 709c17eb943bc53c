// Package sloghooks logs swrcache Hooks events with log/slog. Keys are
// redacted (SHA-256 prefix by default) and the chattiest events are sampled.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/swrcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	CoalescedEvery uint64
	DiscardedEvery uint64
	EvictedEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	coalescedCtr atomic.Uint64
	discardedCtr atomic.Uint64
	evictedCtr   atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.fetch_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) FetchCoalesced(key string) {
	if h.l == nil || !sample(h.opts.CoalescedEvery, &h.coalescedCtr) {
		return
	}
	h.l.Debug("swrcache.fetch_coalesced", "key", h.redact(key))
}

func (h *Hooks) FetchCanceled(key string, superseded bool) {
	if h.l == nil {
		return
	}
	h.l.Debug("swrcache.fetch_canceled",
		"key", h.redact(key),
		"superseded", superseded)
}

func (h *Hooks) StaleWriteDiscarded(key string, observed, current uint64) {
	if h.l == nil || !sample(h.opts.DiscardedEvery, &h.discardedCtr) {
		return
	}
	h.l.Debug("swrcache.stale_write_discarded",
		"key", h.redact(key),
		"observed", observed,
		"current", current)
}

func (h *Hooks) MutationRolledBack(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("swrcache.mutation_rolled_back",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) Evicted(key string, retained bool) {
	if h.l == nil || !sample(h.opts.EvictedEvery, &h.evictedCtr) {
		return
	}
	h.l.Debug("swrcache.evicted",
		"key", h.redact(key),
		"retained", retained)
}

func (h *Hooks) RetainedRejected(storageKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.retained_rejected",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.provider_set_rejected",
		"key", h.redact(storageKey))
}

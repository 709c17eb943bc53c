package swrcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/internal/wire"
)

func (s *Store[V]) sweepLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.sweepInterval)
			s.Sweep(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep evicts entries that have had no subscribers for EvictAfter and are
// neither fetching nor being mutated. Evicted values go to the retained-tier
// provider when one is configured. Returns the number of evicted entries.
// With EvictAfter == 0 it is a no-op.
func (s *Store[V]) Sweep(ctx context.Context) int {
	if s.evictAfter <= 0 {
		return 0
	}
	type victim struct {
		id    string
		entry Entry[V]
	}
	var victims []victim

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	cutoff := s.now().Add(-s.evictAfter)
	for id, r := range s.records {
		if len(r.subs) > 0 || r.flight != nil || r.idleSince.IsZero() || r.idleSince.After(cutoff) {
			continue
		}
		if m := s.mutations[id]; m != nil && m.live > 0 {
			continue
		}
		delete(s.records, id)
		s.revs.Retire(id, r.rev)
		victims = append(victims, victim{id: id, entry: r.snapshot()})
	}
	s.mu.Unlock()

	for _, v := range victims {
		retained := s.retain(ctx, v.id, v.entry)
		s.hooks.Evicted(v.id, retained)
	}
	if len(victims) > 0 {
		s.log.Debug("sweep evicted entries", Fields{"count": len(victims)})
	}
	return len(victims)
}

// retain writes an evicted entry to the provider. Entries without a value
// are not retained.
func (s *Store[V]) retain(ctx context.Context, id string, e Entry[V]) bool {
	if s.provider == nil || !e.HasValue {
		return false
	}
	payload, err := s.codec.Encode(e.Value)
	if err != nil {
		s.log.Warn("retain: encode failed", Fields{"key": id, "err": err})
		return false
	}
	fr := wire.Entry{
		Rev:           e.Revision,
		UpdatedAtNano: e.UpdatedAt.UnixNano(),
		Payload:       payload,
	}
	if p := e.Paging; p != nil {
		fr.HasPaging = true
		fr.TotalItems = uint32(max(p.TotalItems, 0))
		fr.TotalPages = uint32(max(p.TotalPages, 0))
		fr.HasNextPage = p.HasNextPage
		fr.HasPreviousPage = p.HasPreviousPage
	}
	frame, err := wire.EncodeEntry(fr)
	if err != nil {
		s.log.Warn("retain: frame failed", Fields{"key": id, "err": err})
		return false
	}

	sk := util.StorageKey(s.ns, id)
	ok, err := s.provider.Set(ctx, sk, frame, int64(len(frame)), s.retainTTL)
	if err != nil {
		s.log.Warn("retain: provider set failed", Fields{"key": sk, "err": err})
		return false
	}
	if !ok {
		s.hooks.ProviderSetRejected(sk)
		return false
	}
	return true
}

// warm revives a retained entry for key as stale before a query creates it.
// The frame is consumed either way.
func (s *Store[V]) warm(ctx context.Context, key Key) {
	if s.provider == nil {
		return
	}
	id := key.String()
	s.mu.Lock()
	_, live := s.records[id]
	s.mu.Unlock()
	if live {
		return
	}

	sk := util.StorageKey(s.ns, id)
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil {
		s.log.Warn("retained get failed", Fields{"key": sk, "err": err})
		return
	}
	if !ok {
		return
	}
	defer func() { _ = s.provider.Del(ctx, sk) }()

	fr, err := wire.DecodeEntry(raw)
	if err != nil {
		s.hooks.RetainedRejected(sk, "corrupt")
		return
	}
	if fr.Rev != s.revs.Snapshot(id) {
		s.hooks.RetainedRejected(sk, "revision_mismatch")
		return
	}
	v, err := s.codec.Decode(fr.Payload)
	if err != nil {
		s.hooks.RetainedRejected(sk, "value_decode")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.records[id]; live || s.closed {
		return
	}
	if fr.Rev != s.revs.Snapshot(id) {
		s.hooks.RetainedRejected(sk, "revision_mismatch")
		return
	}
	r := s.ensureLocked(key)
	r.value = v
	r.hasValue = true
	r.stale = true
	r.updatedAt = time.Unix(0, fr.UpdatedAtNano)
	if fr.HasPaging {
		r.paging = &Paging{
			TotalItems:      int(fr.TotalItems),
			TotalPages:      int(fr.TotalPages),
			HasNextPage:     fr.HasNextPage,
			HasPreviousPage: fr.HasPreviousPage,
		}
	}
}

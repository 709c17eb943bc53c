// Package revstore keeps the last revision of evicted cache entries so a
// re-created entry continues its revision sequence instead of restarting at 0.
package revstore

import (
	"sync"
	"time"
)

type localRev struct {
	Rev       uint64
	RetiredAt time.Time
}

// Local keeps retired revisions in-process.
// Optional cleanup loop prunes revisions retired longer than retention ago.
// All methods are non-blocking and safe to call while holding other locks.
type Local struct {
	mu     sync.RWMutex
	revs   map[string]localRev
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	retention time.Duration
}

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{
		revs:      make(map[string]localRev),
		retention: retention,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

// Snapshot returns the retired revision for key; missing => 0.
func (s *Local) Snapshot(key string) uint64 {
	s.mu.RLock()
	e := s.revs[key]
	s.mu.RUnlock()
	return e.Rev
}

// Retire records rev as the last revision of key. A lower rev never
// replaces a higher one.
func (s *Local) Retire(key string, rev uint64) {
	now := time.Now()
	s.mu.Lock()
	if e, ok := s.revs[key]; !ok || rev >= e.Rev {
		s.revs[key] = localRev{Rev: rev, RetiredAt: now}
	}
	s.mu.Unlock()
}

// Cleanup drops revisions retired before now-retention and returns how many.
func (s *Local) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)

	removed := 0
	s.mu.Lock()
	for k, e := range s.revs {
		if e.RetiredAt.Before(cutoff) {
			delete(s.revs, k)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revs)
}

func (s *Local) Close() error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			if s.ticker != nil {
				s.ticker.Stop() // stop ticker before waiting
			}
			s.wg.Wait()
		}
	})
	return nil
}

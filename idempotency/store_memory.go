package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many calls pass between sweeps of expired entries
const sweepEvery = 256

// InMemoryStore provides an in-memory implementation of Store.
//
// This implementation is suitable for single-instance deployments where
// guard state doesn't need to be shared across processes. For load-balanced
// deployments use RedisStore.
//
// Features:
//   - Thread-safe with mutex protection
//   - Configurable replay window and rate limit
//   - Lazy cleanup of expired entries
type InMemoryStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	windows map[string]*window
	calls   int
	cfg     config
}

// window is one source's fixed rate-limit window
type window struct {
	start time.Time
	count int
}

// NewInMemoryStore creates a new in-memory guard.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	return &InMemoryStore{
		seen:    make(map[string]time.Time),
		windows: make(map[string]*window),
		cfg:     newConfig(opts),
	}
}

// IsDuplicate atomically checks and marks txID.
func (s *InMemoryStore) IsDuplicate(_ context.Context, txID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	s.maybeSweepLocked(now)

	if expiry, exists := s.seen[txID]; exists && now.Before(expiry) {
		return true, nil
	}
	s.seen[txID] = now.Add(s.cfg.replayTTL)
	return false, nil
}

// Forget drops the mark for txID.
func (s *InMemoryStore) Forget(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seen, txID)
	return nil
}

// CheckRateLimit counts one request for clientIP in its current window.
func (s *InMemoryStore) CheckRateLimit(_ context.Context, clientIP string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.now()
	s.maybeSweepLocked(now)

	key := sourceKey(clientIP)
	w, exists := s.windows[key]
	if !exists || !now.Before(w.start.Add(s.cfg.rateWindow)) {
		s.windows[key] = &window{start: now, count: 1}
		return true, nil
	}
	if w.count >= s.cfg.rateLimit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Reset drops every mark and counter.
func (s *InMemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = make(map[string]time.Time)
	s.windows = make(map[string]*window)
	return nil
}

// Len returns the number of remembered transaction ids, expired ones included
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// maybeSweepLocked removes expired entries every sweepEvery calls.
// Must be called with lock held.
func (s *InMemoryStore) maybeSweepLocked(now time.Time) {
	s.calls++
	if s.calls < sweepEvery {
		return
	}
	s.calls = 0

	for txID, expiry := range s.seen {
		if !now.Before(expiry) {
			delete(s.seen, txID)
		}
	}
	for key, w := range s.windows {
		if !now.Before(w.start.Add(s.cfg.rateWindow)) {
			delete(s.windows, key)
		}
	}
}

// Ensure InMemoryStore implements Store
var _ Store = (*InMemoryStore)(nil)

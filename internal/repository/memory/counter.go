// Package memory holds process-local store implementations. They are only
// consistent within a single instance; horizontally scaled deployments must
// configure the shared stores or accept per-instance throttling.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arklim/storefront-signup/internal/core/port"
)

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// CounterStore is the in-process fixed-window counter used when no shared store is configured
// or the shared store is unreachable.
type CounterStore struct {
	mu      sync.Mutex
	entries map[string]counterEntry
	now     func() time.Time
	sweeps  int
}

// NewCounterStore constructs an empty local counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		entries: make(map[string]counterEntry),
		now:     time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *CounterStore) WithClock(clock func() time.Time) *CounterStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Increment adds one to the counter, opening a new window when the previous one elapsed.
func (s *CounterStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweep(now)

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = counterEntry{expiresAt: now.Add(window)}
	}
	entry.count++
	s.entries[key] = entry

	return entry.count, nil
}

// RemainingTTL reports the time left in the key's window.
func (s *CounterStore) RemainingTTL(_ context.Context, key string) (time.Duration, bool, error) {
	now := s.now()

	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()

	if !ok || !now.Before(entry.expiresAt) {
		return 0, false, nil
	}
	return entry.expiresAt.Sub(now), true, nil
}

// maybeSweep drops elapsed windows every 1024 increments so the map stays bounded.
func (s *CounterStore) maybeSweep(now time.Time) {
	s.sweeps++
	if s.sweeps < 1024 {
		return
	}
	s.sweeps = 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

var _ port.CounterStore = (*CounterStore)(nil)

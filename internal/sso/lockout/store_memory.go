package lockout

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	failures    int
	windowEnds  time.Time
	lockedUntil time.Time
}

func (e *entry) expiredAt(now time.Time) bool {
	return !now.Before(e.windowEnds) && !now.Before(e.lockedUntil)
}

type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*entry)}
}

func (s *InMemoryStore) LockedUntil(_ context.Context, key string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.lockedUntil) {
		return time.Time{}, false, nil
	}
	return e.lockedUntil, true, nil
}

func (s *InMemoryStore) RecordFailure(_ context.Context, key string, now time.Time, cfg Config) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.windowEnds) {
		e = &entry{windowEnds: now.Add(cfg.Window)}
		s.entries[key] = e
	}
	e.failures++
	if e.failures < cfg.MaxFailures {
		return time.Time{}, nil
	}
	e.lockedUntil = now.Add(cfg.LockDuration)
	e.failures = 0
	e.windowEnds = e.lockedUntil
	return e.lockedUntil, nil
}

func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DeleteExpired drops counters whose window and lock have both passed.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if e.expiredAt(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

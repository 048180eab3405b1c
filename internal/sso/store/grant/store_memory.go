package grant

import (
	"context"
	"slices"
	"sync"

	id "github.com/ebellera/SSO/pkg/domain"
)

// InMemoryGrantStore records which applications each session has been
// handed off to. A session with no grants has no entry.
type InMemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[id.SessionID]map[id.ApplicationName]struct{}
}

// New constructs an empty in-memory grant registry.
func New() *InMemoryGrantStore {
	return &InMemoryGrantStore{
		grants: make(map[id.SessionID]map[id.ApplicationName]struct{}),
	}
}

// Add records app for sessionID and reports whether it was new. Repeated
// handoffs to the same application are idempotent.
func (s *InMemoryGrantStore) Add(_ context.Context, sessionID id.SessionID, app id.ApplicationName) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.grants[sessionID]
	if !ok {
		set = make(map[id.ApplicationName]struct{})
		s.grants[sessionID] = set
	}
	if _, exists := set[app]; exists {
		return false, nil
	}
	set[app] = struct{}{}
	return true, nil
}

func (s *InMemoryGrantStore) Has(_ context.Context, sessionID id.SessionID, app id.ApplicationName) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[sessionID][app]
	return ok, nil
}

// List returns the granted applications in name order.
func (s *InMemoryGrantStore) List(_ context.Context, sessionID id.SessionID) ([]id.ApplicationName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.grants[sessionID]
	apps := make([]id.ApplicationName, 0, len(set))
	for app := range set {
		apps = append(apps, app)
	}
	slices.Sort(apps)
	return apps, nil
}

// DeleteSession drops the whole grant set and returns how many entries it held.
func (s *InMemoryGrantStore) DeleteSession(_ context.Context, sessionID id.SessionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.grants[sessionID])
	delete(s.grants, sessionID)
	return n, nil
}

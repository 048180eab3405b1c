package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	"github.com/ebellera/SSO/pkg/platform/sentinel"
)

// Error Contract:
// - FindByID and Delete return ErrNotFound when the session does not exist.
// - Records are copied in and out; callers never share memory with the store.

// InMemorySessionStore keeps global sessions in a map guarded by a RWMutex.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]models.GlobalSession
}

// New constructs an empty in-memory session store.
func New() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[id.SessionID]models.GlobalSession),
	}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.GlobalSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists: %w", session.ID, sentinel.ErrAlreadyUsed)
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.GlobalSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return &session, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	delete(s.sessions, sessionID)
	return nil
}

// Count returns the number of live sessions.
func (s *InMemorySessionStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

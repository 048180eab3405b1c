package exchangetoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	"github.com/ebellera/SSO/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the token does not exist (never issued, consumed or pruned)
// - Return ErrExpired when the token exists but is past its window
// - Return the validate callback's error unchanged; the token is kept in that case
// - Return wrapped errors with context for infrastructure failures

// ValidateFunc runs inside Consume while the token is held exclusively. It
// must not call back into the token store.
type ValidateFunc func(token *models.ExchangeToken) error

// InMemoryExchangeTokenStore stores pending exchange tokens with a per-session
// index so logout can revoke them without a scan.
type InMemoryExchangeTokenStore struct {
	mu        sync.Mutex
	tokens    map[string]models.ExchangeToken
	bySession map[id.SessionID]map[string]struct{}
}

// New constructs an empty in-memory exchange token store.
func New() *InMemoryExchangeTokenStore {
	return &InMemoryExchangeTokenStore{
		tokens:    make(map[string]models.ExchangeToken),
		bySession: make(map[id.SessionID]map[string]struct{}),
	}
}

func (s *InMemoryExchangeTokenStore) Create(_ context.Context, token *models.ExchangeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token.Token]; ok {
		return fmt.Errorf("exchange token collision: %w", sentinel.ErrAlreadyUsed)
	}
	s.tokens[token.Token] = *token
	idx, ok := s.bySession[token.SessionID]
	if !ok {
		idx = make(map[string]struct{})
		s.bySession[token.SessionID] = idx
	}
	idx[token.Token] = struct{}{}
	return nil
}

// Find returns the token without consuming it.
func (s *InMemoryExchangeTokenStore) Find(_ context.Context, token string, now time.Time) (*models.ExchangeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tokens[token]
	if !ok {
		return nil, fmt.Errorf("exchange token not found: %w", sentinel.ErrNotFound)
	}
	if record.IsExpired(now) {
		return nil, fmt.Errorf("exchange token expired: %w", sentinel.ErrExpired)
	}
	return &record, nil
}

// Consume removes the token if it is live and validate accepts it. Of any
// number of concurrent callers at most one gets the record back.
func (s *InMemoryExchangeTokenStore) Consume(_ context.Context, token string, now time.Time, validate ValidateFunc) (*models.ExchangeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[token]
	if !ok {
		return nil, fmt.Errorf("exchange token not found: %w", sentinel.ErrNotFound)
	}
	if record.IsExpired(now) {
		s.removeLocked(record)
		return nil, fmt.Errorf("exchange token expired: %w", sentinel.ErrExpired)
	}
	if validate != nil {
		if err := validate(&record); err != nil {
			return nil, err
		}
	}
	s.removeLocked(record)
	return &record, nil
}

// DeleteBySession revokes every pending token minted for sessionID.
func (s *InMemoryExchangeTokenStore) DeleteBySession(_ context.Context, sessionID id.SessionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.bySession[sessionID]
	for token := range idx {
		delete(s.tokens, token)
	}
	delete(s.bySession, sessionID)
	return len(idx), nil
}

// DeleteExpired removes all tokens that have expired as of now.
// The time parameter is injected for testability (no hidden time.Now() calls).
func (s *InMemoryExchangeTokenStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, record := range s.tokens {
		if record.IsExpired(now) {
			s.removeLocked(record)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports how many tokens are pending, expired ones included.
func (s *InMemoryExchangeTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *InMemoryExchangeTokenStore) removeLocked(record models.ExchangeToken) {
	delete(s.tokens, record.Token)
	if idx, ok := s.bySession[record.SessionID]; ok {
		delete(idx, record.Token)
		if len(idx) == 0 {
			delete(s.bySession, record.SessionID)
		}
	}
}

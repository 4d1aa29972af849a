package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps sessions in a process-local map. Used in development
// mode and tests; a restart loses in-flight conversations, which is
// acceptable because the ledger, not the session, is the source of truth.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewMemoryStorage returns an empty in-memory Storage implementation.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[int64]*Session),
	}
}

// GetState returns the stored session or ErrStateNotFound when absent.
func (s *MemoryStorage) GetState(ctx context.Context, userID int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[userID]
	if !ok {
		return nil, ErrStateNotFound
	}

	return cloneSession(session), nil
}

// SetState saves the provided session.
func (s *MemoryStorage) SetState(ctx context.Context, userID int64, session *Session) error {
	session.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = cloneSession(session)
	return nil
}

// ClearState removes the stored session for the given user.
func (s *MemoryStorage) ClearState(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	return nil
}

// GetAllStates returns every stored session.
func (s *MemoryStorage) GetAllStates(ctx context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		result = append(result, cloneSession(session))
	}

	return result, nil
}

func cloneSession(session *Session) *Session {
	if session == nil {
		return nil
	}

	copied := *session
	return &copied
}

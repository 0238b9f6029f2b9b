package session

import (
	"context"
	"sync"

	id "attesto/pkg/domain"
	"attesto/pkg/platform/sentinel"
)

// MemoryStore keeps sessions in a mutex-guarded map. Used by unit tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[id.SessionID]Session)}
}

func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, sessionID id.SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := sess
	return &copied, nil
}

package store

import (
	"context"
	"sync"
	"time"

	"attesto/internal/challenge"
)

// MemoryStore keeps nonces in a mutex-guarded map with lazy expiry sweeps.
type MemoryStore struct {
	mu        sync.Mutex
	nonces    map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock function for testability.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

func key(circuitType challenge.CircuitType, nonce string) string {
	return string(circuitType) + ":" + nonce
}

func (s *MemoryStore) Put(ctx context.Context, circuitType challenge.CircuitType, nonce string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweep()
	s.nonces[key(circuitType, nonce)] = expiresAt
	return nil
}

func (s *MemoryStore) Redeem(ctx context.Context, circuitType challenge.CircuitType, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(circuitType, nonce)
	expiresAt, ok := s.nonces[k]
	if !ok {
		return false, nil
	}
	delete(s.nonces, k)
	if s.now().After(expiresAt) {
		return false, nil
	}
	return true, nil
}

// maybeSweep drops expired nonces at most once per minute. Called with the
// lock held.
func (s *MemoryStore) maybeSweep() {
	now := s.now()
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	for k, expiresAt := range s.nonces {
		if now.After(expiresAt) {
			delete(s.nonces, k)
		}
	}
	s.lastSweep = now
}

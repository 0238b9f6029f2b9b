package memory

import (
	"context"
	"sync"

	"attesto/pkg/platform/audit"
)

// Store keeps audit events in memory. Used by tests and by single-process
// deployments without a broker.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of everything appended so far.
func (s *Store) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction filters the snapshot by action name.
func (s *Store) ByAction(action string) []audit.Event {
	var out []audit.Event
	for _, e := range s.Events() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

package audit

import (
	"context"
	"sync"

	"vigil/pkg/domain"
)

// MemoryStore keeps audit trails in process, ordered per session.
type MemoryStore struct {
	mu     sync.RWMutex
	trails map[domain.SessionID][]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trails: make(map[domain.SessionID][]Event)}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trails[event.SessionID] = append(s.trails[event.SessionID], event)
	return nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID domain.SessionID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.trails[sessionID]
	out := make([]Event, len(trail))
	copy(out, trail)
	return out, nil
}

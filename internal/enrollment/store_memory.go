package enrollment

import (
	"context"
	"sync"

	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// MemoryStore keeps enrollments in process. It is the default backing for
// development and tests; production wires the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[domain.IdentityID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.IdentityID]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.IdentityID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.IdentityID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[id]; ok {
		return rec, nil
	}
	return Record{}, sentinel.ErrNotFound
}

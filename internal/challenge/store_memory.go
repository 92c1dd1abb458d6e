package challenge

import (
	"context"
	"sync"

	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// MemoryStore keeps challenges in process.
type MemoryStore struct {
	mu         sync.RWMutex
	challenges map[domain.ChallengeID]Challenge
	pending    map[domain.SessionID]domain.ChallengeID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[domain.ChallengeID]Challenge),
		pending:    make(map[domain.SessionID]domain.ChallengeID),
	}
}

func (s *MemoryStore) Put(_ context.Context, ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.ID] = ch
	if ch.Status == StatusPending {
		s.pending[ch.SessionID] = ch.ID
	} else if id, ok := s.pending[ch.SessionID]; ok && id == ch.ID {
		delete(s.pending, ch.SessionID)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.ChallengeID) (Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.challenges[id]; ok {
		return ch, nil
	}
	return Challenge{}, sentinel.ErrNotFound
}

func (s *MemoryStore) Pending(_ context.Context, sessionID domain.SessionID) (Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pending[sessionID]
	if !ok {
		return Challenge{}, sentinel.ErrNotFound
	}
	return s.challenges[id], nil
}

func (s *MemoryStore) ClearPending(_ context.Context, sessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
	return nil
}

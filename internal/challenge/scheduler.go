package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// Scheduler issues and settles voice challenges. Phrase selection is
// unpredictable (crypto/rand) and never repeats the immediately preceding
// phrase of the same session, so a clip recorded for the last challenge is
// useless for the next one.
//
// The scheduler owns only the challenge lifecycle. Verifying the spoken
// answer against the enrolled voiceprint is the caller's job; an answer is
// marked answered only after that verification produced a verdict.
type Scheduler struct {
	store   Store
	phrases []string
	window  time.Duration
	now     func() time.Time

	mu         sync.Mutex
	lastPhrase map[domain.SessionID]string
}

func NewScheduler(store Store, phrases []string, window time.Duration) (*Scheduler, error) {
	if len(phrases) < 2 {
		return nil, fmt.Errorf("phrase pool needs at least 2 entries, got %d", len(phrases))
	}
	if window <= 0 {
		return nil, fmt.Errorf("response window must be positive")
	}
	return &Scheduler{
		store:      store,
		phrases:    phrases,
		window:     window,
		now:        time.Now,
		lastPhrase: make(map[domain.SessionID]string),
	}, nil
}

// Issue creates the session's pending challenge. If an unexpired pending
// challenge already exists it is returned as-is, keeping the one-pending
// invariant and making client retries harmless. An expired leftover is
// superseded; the expiry sweep is responsible for its violation.
func (s *Scheduler) Issue(ctx context.Context, sessionID domain.SessionID) (Challenge, error) {
	now := s.now()

	existing, err := s.store.Pending(ctx, sessionID)
	switch {
	case err == nil && now.Before(existing.ExpiresAt):
		return existing, nil
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return Challenge{}, fmt.Errorf("look up pending challenge: %w", err)
	}

	phrase, err := s.pickPhrase(sessionID)
	if err != nil {
		return Challenge{}, err
	}

	ch := Challenge{
		ID:        domain.NewChallengeID(),
		SessionID: sessionID,
		Phrase:    phrase,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.window),
		Status:    StatusPending,
	}
	if err := s.store.Put(ctx, ch); err != nil {
		return Challenge{}, fmt.Errorf("store challenge: %w", err)
	}

	s.mu.Lock()
	s.lastPhrase[sessionID] = phrase
	s.mu.Unlock()

	return ch, nil
}

// Pending returns the session's current pending challenge without issuing
// a new one, sentinel.ErrNotFound when none is outstanding.
func (s *Scheduler) Pending(ctx context.Context, sessionID domain.SessionID) (Challenge, error) {
	ch, err := s.store.Pending(ctx, sessionID)
	if err != nil {
		return Challenge{}, err
	}
	if s.now().After(ch.ExpiresAt) {
		return Challenge{}, fmt.Errorf("challenge %s past its window: %w", ch.ID, sentinel.ErrExpired)
	}
	return ch, nil
}

// Validate checks that an answer for the challenge is acceptable right now:
// the challenge exists, is pending, and is inside its response window. It
// mutates nothing, so a failed validation leaves the challenge answerable
// (or sweepable) exactly as before.
func (s *Scheduler) Validate(ctx context.Context, id domain.ChallengeID) (Challenge, error) {
	ch, err := s.store.Get(ctx, id)
	if err != nil {
		return Challenge{}, err
	}
	switch ch.Status {
	case StatusAnswered:
		return Challenge{}, fmt.Errorf("challenge %s: %w", id, sentinel.ErrAlreadyUsed)
	case StatusExpired:
		return Challenge{}, fmt.Errorf("challenge %s: %w", id, sentinel.ErrExpired)
	}
	if s.now().After(ch.ExpiresAt) {
		return Challenge{}, fmt.Errorf("challenge %s past its window: %w", id, sentinel.ErrExpired)
	}
	return ch, nil
}

// Answer marks a validated challenge answered. Callers invoke this after
// the voice verification produced a verdict, whatever that verdict was.
func (s *Scheduler) Answer(ctx context.Context, id domain.ChallengeID) (Challenge, error) {
	ch, err := s.Validate(ctx, id)
	if err != nil {
		return Challenge{}, err
	}
	ch.Status = StatusAnswered
	if err := s.store.Put(ctx, ch); err != nil {
		return Challenge{}, fmt.Errorf("mark answered: %w", err)
	}
	return ch, nil
}

// ExpireDue transitions the session's pending challenge to expired if its
// window has passed, returning it so the session can raise the missed
// challenge as a mismatch. Driven by the session's clock, not its own.
func (s *Scheduler) ExpireDue(ctx context.Context, sessionID domain.SessionID) (*Challenge, error) {
	ch, err := s.store.Pending(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up pending challenge: %w", err)
	}
	if s.now().Before(ch.ExpiresAt) {
		return nil, nil
	}
	ch.Status = StatusExpired
	if err := s.store.Put(ctx, ch); err != nil {
		return nil, fmt.Errorf("mark expired: %w", err)
	}
	return &ch, nil
}

// Cancel drops the session's outstanding challenge state. Called when the
// session reaches a terminal status.
func (s *Scheduler) Cancel(ctx context.Context, sessionID domain.SessionID) error {
	s.mu.Lock()
	delete(s.lastPhrase, sessionID)
	s.mu.Unlock()
	return s.store.ClearPending(ctx, sessionID)
}

func (s *Scheduler) pickPhrase(sessionID domain.SessionID) (string, error) {
	s.mu.Lock()
	last := s.lastPhrase[sessionID]
	s.mu.Unlock()

	candidates := make([]string, 0, len(s.phrases))
	for _, p := range s.phrases {
		if p != last {
			candidates = append(candidates, p)
		}
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return "", fmt.Errorf("draw phrase: %w", err)
	}
	return candidates[n.Int64()], nil
}

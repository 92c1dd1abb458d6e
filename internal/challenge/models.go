package challenge

import (
	"context"
	"time"

	"vigil/pkg/domain"
)

// Status tracks a challenge through its lifecycle. Exactly one pending
// challenge may exist per session at a time.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusExpired  Status = "expired"
)

// Challenge is a one-shot voice prompt. The phrase is unpredictable so a
// pre-recorded clip of a previous challenge cannot be replayed.
type Challenge struct {
	ID        domain.ChallengeID `json:"id"`
	SessionID domain.SessionID   `json:"session_id"`
	Phrase    string             `json:"phrase"`
	IssuedAt  time.Time          `json:"issued_at"`
	ExpiresAt time.Time          `json:"expires_at"`
	Status    Status             `json:"status"`
}

// Store persists challenges and the per-session pending pointer.
type Store interface {
	Put(ctx context.Context, ch Challenge) error
	Get(ctx context.Context, id domain.ChallengeID) (Challenge, error)
	// Pending returns the session's pending challenge, sentinel.ErrNotFound
	// if there is none.
	Pending(ctx context.Context, sessionID domain.SessionID) (Challenge, error)
	// ClearPending drops the pending pointer (terminal session states).
	ClearPending(ctx context.Context, sessionID domain.SessionID) error
}

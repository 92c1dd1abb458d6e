package audit

import (
	"context"

	"vigil/pkg/domain"
)

// Store persists audit events. Append-only; there is no update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	// ListBySession returns a session's events in chain order.
	ListBySession(ctx context.Context, sessionID domain.SessionID) ([]Event, error)
}

// Publisher fans events out to an external sink (Kafka). Optional; a nil
// publisher is skipped by the worker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vigil/pkg/domain"
)

// Logger is the engine's append-only security event sink. Record is
// fire-and-forget: the event is chained, buffered and handed to the
// background worker; persistence failures are logged and never surface to
// a verification decision.
type Logger struct {
	store     Store
	publisher Publisher
	log       *slog.Logger
	buf       *ringBuffer

	mu     sync.Mutex
	chains map[domain.SessionID]chainState
}

type chainState struct {
	seq      uint64
	lastHash string
}

func NewLogger(store Store, publisher Publisher, log *slog.Logger) *Logger {
	return &Logger{
		store:     store,
		publisher: publisher,
		log:       log,
		buf:       newRingBuffer(10000),
		chains:    make(map[domain.SessionID]chainState),
	}
}

// Record stamps, chains and enqueues the event. The per-session sequence
// and hash chain are assigned under one lock so the trail order is the
// order decisions were actually recorded in.
func (l *Logger) Record(event Event) {
	if event.ID == (domain.EventID{}) {
		event.ID = domain.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	chain := l.chains[event.SessionID]
	event.Seq = chain.seq
	event.PrevHash = chain.lastHash
	hash, err := ComputeHash(chain.lastHash, event)
	if err != nil {
		l.mu.Unlock()
		l.log.Error("audit event could not be chained", "session_id", event.SessionID, "error", err)
		return
	}
	event.Hash = hash
	l.chains[event.SessionID] = chainState{seq: chain.seq + 1, lastHash: hash}
	l.mu.Unlock()

	l.buf.enqueue(event)
}

// Forget releases the chain state of a finished session. Its persisted
// trail stays verifiable; only the in-memory cursor goes away.
func (l *Logger) Forget(sessionID domain.SessionID) {
	l.mu.Lock()
	delete(l.chains, sessionID)
	l.mu.Unlock()
}

// List exposes a session's trail for admin review.
func (l *Logger) List(ctx context.Context, sessionID domain.SessionID) ([]Event, error) {
	return l.store.ListBySession(ctx, sessionID)
}

// Dropped reports how many events the buffer shed under pressure.
func (l *Logger) Dropped() int64 {
	return l.buf.droppedCount()
}

// Flush synchronously drains everything buffered so far. Useful on
// shutdown paths that bypass Run and in tests.
func (l *Logger) Flush(ctx context.Context) {
	l.drain(ctx)
}

// Run drains the buffer into the store and publisher until ctx is done.
// On shutdown it makes one final drain pass so a clean exit loses nothing.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drain(context.Background())
			return ctx.Err()
		case <-ticker.C:
			l.drain(ctx)
		}
	}
}

func (l *Logger) drain(ctx context.Context) {
	for {
		batch := l.buf.dequeueBatch(256)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := l.store.Append(ctx, event); err != nil {
				l.log.Error("audit append failed", "event_id", event.ID, "session_id", event.SessionID, "error", err)
			}
			if l.publisher != nil {
				if err := l.publisher.Publish(ctx, event); err != nil {
					l.log.Error("audit publish failed", "event_id", event.ID, "error", err)
				}
			}
		}
	}
}

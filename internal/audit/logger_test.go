package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/pkg/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func drainAll(l *Logger) {
	l.drain(context.Background())
}

func TestRecord_ChainsEventsPerSession(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil, discardLogger())
	sessionID := domain.NewSessionID()

	for i := 0; i < 5; i++ {
		l.Record(Event{SessionID: sessionID, Kind: KindFaceCheck, Outcome: OutcomeMatch})
	}
	drainAll(l)

	events, err := store.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Empty(t, events[0].PrevHash)
	for i, e := range events {
		assert.Equal(t, uint64(i), e.Seq)
		if i > 0 {
			assert.Equal(t, events[i-1].Hash, e.PrevHash)
		}
	}
	assert.NoError(t, VerifyChain(events))
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil, discardLogger())
	sessionID := domain.NewSessionID()

	score := 0.9
	l.Record(Event{SessionID: sessionID, Kind: KindFaceCheck, Outcome: OutcomeMatch, FaceScore: &score})
	l.Record(Event{SessionID: sessionID, Kind: KindViolation, Detail: "absence"})
	drainAll(l)

	events, err := store.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	require.NoError(t, VerifyChain(events))

	t.Run("altered score breaks the chain", func(t *testing.T) {
		tampered := append([]Event{}, events...)
		doctored := 0.2
		tampered[0].FaceScore = &doctored
		assert.Error(t, VerifyChain(tampered))
	})

	t.Run("dropped event breaks the chain", func(t *testing.T) {
		assert.Error(t, VerifyChain(events[1:]))
	})
}

func TestChainsAreIndependentAcrossSessions(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil, discardLogger())
	a, b := domain.NewSessionID(), domain.NewSessionID()

	l.Record(Event{SessionID: a, Kind: KindFaceCheck})
	l.Record(Event{SessionID: b, Kind: KindFaceCheck})
	l.Record(Event{SessionID: a, Kind: KindViolation})
	drainAll(l)

	eventsA, err := store.ListBySession(context.Background(), a)
	require.NoError(t, err)
	eventsB, err := store.ListBySession(context.Background(), b)
	require.NoError(t, err)

	assert.Len(t, eventsA, 2)
	assert.Len(t, eventsB, 1)
	assert.NoError(t, VerifyChain(eventsA))
	assert.NoError(t, VerifyChain(eventsB))
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) Append(context.Context, Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("disk on fire")
}

func (s *failingStore) ListBySession(context.Context, domain.SessionID) ([]Event, error) {
	return nil, nil
}

func TestRecord_NeverBlocksOnFailingStore(t *testing.T) {
	l := NewLogger(&failingStore{}, nil, discardLogger())
	sessionID := domain.NewSessionID()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			l.Record(Event{SessionID: sessionID, Kind: KindFaceCheck})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a failing store")
	}
	drainAll(l)
}

func TestBufferShedsOldestUnderPressure(t *testing.T) {
	l := NewLogger(NewMemoryStore(), nil, discardLogger())
	l.buf = newRingBuffer(10)
	sessionID := domain.NewSessionID()

	for i := 0; i < 25; i++ {
		l.Record(Event{SessionID: sessionID, Kind: KindFaceCheck})
	}

	assert.Equal(t, 10, l.buf.len())
	assert.Equal(t, int64(15), l.Dropped())
}

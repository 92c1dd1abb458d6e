package surveillance

import (
	"fmt"
	"sync"
	"time"

	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// FrameBuffer holds the most recent camera frame pushed by each session's
// capture client. The runner consumes frames on its own cadence: the
// client streams, the server decides when to check. A frame is consumed at
// most once, and a frame older than the check interval is as good as no
// frame at all.
type FrameBuffer struct {
	mu     sync.Mutex
	frames map[domain.SessionID]frame
	now    func() time.Time
}

type frame struct {
	data []byte
	at   time.Time
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{
		frames: make(map[domain.SessionID]frame),
		now:    time.Now,
	}
}

// Push replaces the session's buffered frame with a newer capture.
func (b *FrameBuffer) Push(sessionID domain.SessionID, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty frame", sentinel.ErrUnsupportedFormat)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames[sessionID] = frame{data: data, at: b.now()}
	return nil
}

// Take removes and returns the session's frame if one no older than
// maxAge is buffered, else sentinel.ErrNotFound. A candidate who stopped
// streaming produces no frame, which the check cycle reads as absence.
func (b *FrameBuffer) Take(sessionID domain.SessionID, maxAge time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.frames[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: no frame buffered for session %s", sentinel.ErrNotFound, sessionID)
	}
	delete(b.frames, sessionID)
	if b.now().Sub(f.at) > maxAge {
		return nil, fmt.Errorf("%w: buffered frame for session %s is stale", sentinel.ErrNotFound, sessionID)
	}
	return f.data, nil
}

// Drop discards any buffered frame for a finished session.
func (b *FrameBuffer) Drop(sessionID domain.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.frames, sessionID)
}

package surveillance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/audit"
	"vigil/internal/biometric"
	"vigil/internal/challenge"
	"vigil/internal/enrollment"
	"vigil/internal/extractor"
	"vigil/internal/platform/config"
	"vigil/internal/surveillance/metrics"
	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// Manager owns the live attempts: it creates a session and its runner when
// an exam attempt starts, routes pushed frames and challenge answers to
// them, and tears everything down when the attempt ends or disqualifies.
// Sessions share no mutable state; one session's slow extractor call never
// delays another's schedule.
type Manager struct {
	cfg       config.Config
	enrolls   enrollment.Store
	extractor extractor.Extractor
	matcher   *biometric.Matcher
	fusion    *biometric.Fusion
	scheduler *challenge.Scheduler
	frames    *FrameBuffer
	trail     *audit.Logger
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu      sync.Mutex
	running map[domain.SessionID]*attempt
	// finished keeps final snapshots so status stays queryable after the
	// attempt ends. A session id is used at most once.
	finished map[domain.SessionID]State

	baseCtx context.Context
	wg      sync.WaitGroup
}

type attempt struct {
	session *Session
	runner  *Runner
	cancel  context.CancelFunc
}

func NewManager(ctx context.Context, cfg config.Config, enrolls enrollment.Store, ext extractor.Extractor, matcher *biometric.Matcher, fusion *biometric.Fusion, scheduler *challenge.Scheduler, trail *audit.Logger, m *metrics.Metrics, log *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		enrolls:   enrolls,
		extractor: ext,
		matcher:   matcher,
		fusion:    fusion,
		scheduler: scheduler,
		frames:    NewFrameBuffer(),
		trail:     trail,
		metrics:   m,
		log:       log,
		running:   make(map[domain.SessionID]*attempt),
		finished:  make(map[domain.SessionID]State),
		baseCtx:   ctx,
	}
}

func (m *Manager) policy() Policy {
	return Policy{
		WarnThreshold:        m.cfg.WarnThreshold,
		DisqualifyThreshold:  m.cfg.DisqualifyThreshold,
		HardFloor:            m.cfg.HardFloor,
		AbsenceThreshold:     m.cfg.AbsenceThreshold,
		IdentityChangeDelta:  m.cfg.IdentityChangeDelta,
		IdentityChangeWindow: m.cfg.IdentityChangeWindow,
		EvasionWindow:        m.cfg.EvasionWindow,
		EvasionDipCount:      m.cfg.EvasionDipCount,
	}
}

// StartAttempt begins surveillance of an exam attempt. The identity must
// be enrolled; a session id is usable for exactly one attempt, ever.
func (m *Manager) StartAttempt(ctx context.Context, sessionID domain.SessionID, identityID domain.IdentityID) (State, error) {
	enrolled, err := m.enrolls.Get(ctx, identityID)
	if err != nil {
		return State{}, fmt.Errorf("load enrollment for %s: %w", identityID, err)
	}

	m.mu.Lock()
	if _, ok := m.running[sessionID]; ok {
		m.mu.Unlock()
		return State{}, fmt.Errorf("%w: session %s already under surveillance", sentinel.ErrConflict, sessionID)
	}
	if _, ok := m.finished[sessionID]; ok {
		m.mu.Unlock()
		return State{}, fmt.Errorf("%w: session %s already ran an attempt", sentinel.ErrConflict, sessionID)
	}

	session := NewSession(sessionID, identityID, m.policy(), m.trail)
	runCtx, cancel := context.WithCancel(m.baseCtx)
	runner := NewRunner(session, enrolled, RunnerDeps{
		Frames:    m.frames,
		Extractor: m.extractor,
		Matcher:   m.matcher,
		Fusion:    m.fusion,
		Scheduler: m.scheduler,
		Trail:     m.trail,
		Metrics:   m.metrics,
		Log:       m.log,
	}, m.cfg.FaceCheckInterval, m.cfg.VoiceChallengeInterval)

	session.SetTerminalHook(func(final Status) {
		cancel()
		m.retire(sessionID, final)
	})
	if m.metrics != nil {
		session.SetViolationHook(func(kind ViolationKind) {
			m.metrics.IncrementViolation(string(kind))
		})
	}

	a := &attempt{session: session, runner: runner, cancel: cancel}
	m.running[sessionID] = a
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := runner.Run(runCtx); err != nil && runCtx.Err() == nil {
			m.log.Error("session runner exited", "session_id", sessionID, "error", err)
		}
	}()

	if m.metrics != nil {
		m.metrics.SessionsStarted.Inc()
		m.metrics.ActiveSessions.Inc()
	}
	m.log.Info("surveillance started", "session_id", sessionID, "identity_id", identityID)
	return session.Snapshot(), nil
}

// EndAttempt completes a session normally (submission or exam time-out).
// A disqualified session stays disqualified; its attempt is already torn
// down.
func (m *Manager) EndAttempt(ctx context.Context, sessionID domain.SessionID) (State, error) {
	m.mu.Lock()
	a, ok := m.running[sessionID]
	m.mu.Unlock()
	if !ok {
		if st, done := m.finishedState(sessionID); done {
			return st, fmt.Errorf("%w: session %s is already %s", sentinel.ErrInvalidState, sessionID, st.Status)
		}
		return State{}, fmt.Errorf("%w: session %s is not under surveillance", sentinel.ErrNotFound, sessionID)
	}

	st, err := a.session.Complete()
	if err != nil {
		return st, err
	}
	return st, nil
}

// retire runs on the session's terminal transition: stop the schedule,
// drop buffered frames, void the outstanding challenge, archive the final
// state.
func (m *Manager) retire(sessionID domain.SessionID, final Status) {
	m.mu.Lock()
	a, ok := m.running[sessionID]
	if ok {
		delete(m.running, sessionID)
		m.finished[sessionID] = a.session.Snapshot()
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.frames.Drop(sessionID)
	if err := m.scheduler.Cancel(context.Background(), sessionID); err != nil {
		m.log.Warn("challenge cancel failed", "session_id", sessionID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
		m.metrics.SessionsEnded.WithLabelValues(string(final)).Inc()
	}
	m.log.Info("surveillance ended", "session_id", sessionID, "status", final)
}

// SubmitFrame buffers the latest camera frame for the session. The runner
// consumes it on the next face tick.
func (m *Manager) SubmitFrame(sessionID domain.SessionID, data []byte) error {
	if _, err := m.lookup(sessionID); err != nil {
		return err
	}
	return m.frames.Push(sessionID, data)
}

// PendingChallenge returns the phrase the candidate must speak right now.
func (m *Manager) PendingChallenge(ctx context.Context, sessionID domain.SessionID) (challenge.Challenge, error) {
	if _, err := m.lookup(sessionID); err != nil {
		return challenge.Challenge{}, err
	}
	return m.scheduler.Pending(ctx, sessionID)
}

// AnswerChallenge verifies a spoken challenge response against the
// enrolled voiceprint. The challenge is consumed only when verification
// produced a verdict; a response whose audio yields no usable signal
// leaves the challenge answerable and returns ErrExtractionFailed.
func (m *Manager) AnswerChallenge(ctx context.Context, sessionID domain.SessionID, challengeID domain.ChallengeID, audio []byte) (biometric.Verdict, error) {
	a, err := m.lookup(sessionID)
	if err != nil {
		return biometric.Verdict{}, err
	}

	ch, err := m.scheduler.Validate(ctx, challengeID)
	if err != nil {
		return biometric.Verdict{}, err
	}
	if ch.SessionID != sessionID {
		return biometric.Verdict{}, fmt.Errorf("%w: challenge %s does not belong to session %s", sentinel.ErrNotFound, challengeID, sessionID)
	}

	seq, err := a.session.BeginCheck(domain.ModalityVoice)
	if err != nil {
		return biometric.Verdict{}, err
	}
	start := time.Now()

	embedding, err := a.runner.extractWithRetry(ctx, domain.ModalityVoice, audio)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnsupportedFormat) {
			a.session.AbortCheck(domain.ModalityVoice, seq)
			return biometric.Verdict{}, err
		}
		a.session.ApplyVoiceInconclusive(seq)
		if m.metrics != nil {
			m.metrics.ObserveCheck(string(domain.ModalityVoice), string(audit.OutcomeInconclusive), start)
		}
		return biometric.Verdict{}, err
	}

	verdict, err := a.runner.evaluate(domain.ModalityVoice, embedding)
	if err != nil {
		m.log.Error("voice check produced no verdict", "session_id", sessionID, "error", err)
		a.session.ApplyVoiceInconclusive(seq)
		return biometric.Verdict{}, err
	}

	if _, err := m.scheduler.Answer(ctx, challengeID); err != nil {
		// Window closed mid-verification; the sweep will raise the miss.
		a.session.AbortCheck(domain.ModalityVoice, seq)
		return biometric.Verdict{}, err
	}

	a.session.ApplyVoiceVerdict(seq, verdict)
	if m.metrics != nil {
		outcome := string(audit.OutcomeMatch)
		if verdict.Decision == biometric.DecisionReject {
			outcome = string(audit.OutcomeMismatch)
		}
		m.metrics.ObserveCheck(string(domain.ModalityVoice), outcome, start)
	}
	return verdict, nil
}

// Status reports the session's current or final state.
func (m *Manager) Status(sessionID domain.SessionID) (State, error) {
	m.mu.Lock()
	a, ok := m.running[sessionID]
	m.mu.Unlock()
	if ok {
		return a.session.Snapshot(), nil
	}
	if st, done := m.finishedState(sessionID); done {
		return st, nil
	}
	return State{}, fmt.Errorf("%w: session %s", sentinel.ErrNotFound, sessionID)
}

// Audit returns the session's full event trail for admin review.
func (m *Manager) Audit(ctx context.Context, sessionID domain.SessionID) ([]audit.Event, error) {
	return m.trail.List(ctx, sessionID)
}

// Close completes every live attempt and waits for the runners to stop.
// Called on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	attempts := make([]*attempt, 0, len(m.running))
	for _, a := range m.running {
		attempts = append(attempts, a)
	}
	m.mu.Unlock()

	for _, a := range attempts {
		if _, err := a.session.Complete(); err != nil {
			a.cancel()
		}
	}
	m.wg.Wait()
}

func (m *Manager) lookup(sessionID domain.SessionID) (*attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.running[sessionID]
	if !ok {
		if st, done := m.finished[sessionID]; done {
			return nil, fmt.Errorf("%w: session %s is %s", sentinel.ErrInvalidState, sessionID, st.Status)
		}
		return nil, fmt.Errorf("%w: session %s", sentinel.ErrNotFound, sessionID)
	}
	return a, nil
}

func (m *Manager) finishedState(sessionID domain.SessionID) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.finished[sessionID]
	return st, ok
}

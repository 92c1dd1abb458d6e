package surveillance

import (
	"fmt"
	"sync"
	"time"

	"vigil/internal/audit"
	"vigil/internal/biometric"
	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// Session is the state machine of one monitored exam attempt. All
// transitions go through its mutex: at most one state change is computed
// at a time, while extraction and matching for other sessions proceed in
// parallel.
//
// Checks follow a begin/apply protocol. BeginCheck claims the modality's
// single in-flight slot and returns a sequence number; the matching Apply
// call releases the slot and applies the result only if the slot still
// holds that sequence and the session is not terminal. A slow extractor
// call can therefore never race a later check or mutate a finished
// session.
type Session struct {
	mu sync.Mutex

	sessionID  domain.SessionID
	identityID domain.IdentityID
	policy     Policy
	detector   *Detector
	trail      *audit.Logger
	now        func() time.Time

	status    Status
	startedAt time.Time
	updatedAt time.Time

	faceChecks  int
	voiceChecks int

	consecutiveFaceFailures int
	consecutiveAbsences     int

	severity   int
	violations []Violation

	lastFaceOutcome  audit.Outcome
	lastVoiceOutcome audit.Outcome
	lastFused        *float64

	nextSeq  uint64
	inflight map[domain.Modality]uint64

	// onTerminal fires once, outside the session lock, when the session
	// reaches a terminal status. The manager uses it to cancel the runner
	// and any pending challenge.
	onTerminal func(Status)
	// onViolation feeds the metrics; called under the lock, must not call
	// back into the session.
	onViolation func(ViolationKind)
}

func NewSession(sessionID domain.SessionID, identityID domain.IdentityID, policy Policy, trail *audit.Logger) *Session {
	s := &Session{
		sessionID:  sessionID,
		identityID: identityID,
		policy:     policy,
		detector:   NewDetector(policy),
		trail:      trail,
		now:        time.Now,
		status:     StatusActive,
		inflight:   make(map[domain.Modality]uint64),
	}
	s.startedAt = s.now().UTC()
	s.updatedAt = s.startedAt
	return s
}

// SetTerminalHook installs the terminal-state callback. Must be called
// before the session receives traffic.
func (s *Session) SetTerminalHook(fn func(Status)) { s.onTerminal = fn }

// SetViolationHook installs the violation observer. Must be called before
// the session receives traffic.
func (s *Session) SetViolationHook(fn func(ViolationKind)) { s.onViolation = fn }

// BeginCheck claims the single in-flight slot for a modality. It refuses
// a second concurrent check for the same modality and any check on a
// terminal session.
func (s *Session) BeginCheck(m domain.Modality) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return 0, fmt.Errorf("%w: session %s is %s", sentinel.ErrInvalidState, s.sessionID, s.status)
	}
	if _, busy := s.inflight[m]; busy {
		return 0, fmt.Errorf("%w: %s check already in flight for session %s", sentinel.ErrConflict, m, s.sessionID)
	}
	s.nextSeq++
	s.inflight[m] = s.nextSeq
	return s.nextSeq, nil
}

// AbortCheck releases an in-flight slot without applying a result, for
// cycles that fail before producing an outcome worth recording.
func (s *Session) AbortCheck(m domain.Modality, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[m] == seq {
		delete(s.inflight, m)
	}
}

// ApplyFaceResult lands the outcome of one face check. A nil verdict
// means the cycle was inconclusive (no usable signal after retry). Stale
// sequences and results arriving after a terminal transition are
// discarded. It reports whether the result was applied.
func (s *Session) ApplyFaceResult(seq uint64, verdict *biometric.Verdict) bool {
	s.mu.Lock()

	if !s.claim(domain.ModalityFace, seq) {
		s.mu.Unlock()
		return false
	}

	s.faceChecks++
	s.updatedAt = s.now().UTC()

	if verdict == nil {
		s.consecutiveFaceFailures++
		s.consecutiveAbsences++
		s.lastFaceOutcome = audit.OutcomeInconclusive
		s.record(audit.Event{
			Kind:     audit.KindFaceCheck,
			Modality: domain.ModalityFace,
			Outcome:  audit.OutcomeInconclusive,
		})
		s.raise(s.detector.ObserveInconclusive()...)
	} else {
		s.applyFaceVerdict(*verdict)
	}

	became := s.evaluate(verdict)
	s.mu.Unlock()
	s.fireTerminal(became)
	return true
}

func (s *Session) applyFaceVerdict(v biometric.Verdict) {
	s.consecutiveAbsences = 0
	fused := v.FusedScore
	s.lastFused = &fused

	outcome := audit.OutcomeMatch
	if v.Decision == biometric.DecisionReject {
		outcome = audit.OutcomeMismatch
		s.consecutiveFaceFailures++
	} else {
		s.consecutiveFaceFailures = 0
	}
	s.lastFaceOutcome = outcome

	s.record(audit.Event{
		Kind:       audit.KindFaceCheck,
		Modality:   domain.ModalityFace,
		Outcome:    outcome,
		FaceScore:  v.FaceScore,
		VoiceScore: v.VoiceScore,
		FusedScore: &fused,
		Decision:   string(v.Decision),
		Detail:     v.Reason,
	})

	if outcome == audit.OutcomeMismatch {
		s.raise(Anomaly{Kind: ViolationFaceMismatch, Detail: v.Reason})
	}
	s.raise(s.detector.ObserveVerdict(v)...)
}

// ApplyVoiceVerdict lands the outcome of an answered voice challenge.
func (s *Session) ApplyVoiceVerdict(seq uint64, v biometric.Verdict) bool {
	s.mu.Lock()

	if !s.claim(domain.ModalityVoice, seq) {
		s.mu.Unlock()
		return false
	}

	s.voiceChecks++
	s.updatedAt = s.now().UTC()
	fused := v.FusedScore
	s.lastFused = &fused

	outcome := audit.OutcomeMatch
	if v.Decision == biometric.DecisionReject {
		outcome = audit.OutcomeMismatch
	}
	s.lastVoiceOutcome = outcome

	s.record(audit.Event{
		Kind:       audit.KindVoiceCheck,
		Modality:   domain.ModalityVoice,
		Outcome:    outcome,
		VoiceScore: v.VoiceScore,
		FusedScore: &fused,
		Decision:   string(v.Decision),
		Detail:     v.Reason,
	})

	if outcome == audit.OutcomeMismatch {
		s.raise(Anomaly{Kind: ViolationVoiceMismatch, Detail: v.Reason})
	}

	became := s.evaluate(&v)
	s.mu.Unlock()
	s.fireTerminal(became)
	return true
}

// ApplyVoiceInconclusive records an answered challenge whose audio yielded
// no usable signal. The challenge itself is not consumed; no violation is
// raised.
func (s *Session) ApplyVoiceInconclusive(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claim(domain.ModalityVoice, seq) {
		return false
	}
	s.voiceChecks++
	s.updatedAt = s.now().UTC()
	s.lastVoiceOutcome = audit.OutcomeInconclusive
	s.record(audit.Event{
		Kind:     audit.KindVoiceCheck,
		Modality: domain.ModalityVoice,
		Outcome:  audit.OutcomeInconclusive,
	})
	return true
}

// ChallengeExpired records a voice challenge the candidate never answered.
// A missed challenge is a mismatch signal, never a neutral one.
func (s *Session) ChallengeExpired(challengeID domain.ChallengeID) {
	s.mu.Lock()

	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.updatedAt = s.now().UTC()
	s.lastVoiceOutcome = audit.OutcomeMismatch
	s.record(audit.Event{
		Kind:     audit.KindChallengeExpired,
		Modality: domain.ModalityVoice,
		Outcome:  audit.OutcomeMismatch,
		Detail:   fmt.Sprintf("challenge %s expired unanswered", challengeID),
	})
	s.raise(Anomaly{Kind: ViolationVoiceMismatch, Detail: "voice challenge expired unanswered"})

	became := s.evaluate(nil)
	s.mu.Unlock()
	s.fireTerminal(became)
}

// Complete ends the attempt normally. Disqualified sessions stay
// disqualified; completing twice is an error.
func (s *Session) Complete() (State, error) {
	s.mu.Lock()

	if s.status.Terminal() {
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, fmt.Errorf("%w: session %s is already %s", sentinel.ErrInvalidState, s.sessionID, s.status)
	}
	s.transition(StatusCompleted, "attempt ended")
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.fireTerminal(StatusCompleted)
	return st, nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// claim releases the modality slot when it still holds seq and reports
// whether the result may be applied. Terminal sessions discard results but
// still free the slot.
func (s *Session) claim(m domain.Modality, seq uint64) bool {
	if s.inflight[m] != seq {
		return false
	}
	delete(s.inflight, m)
	return !s.status.Terminal()
}

// raise records violations and accumulates their severity. Callers hold
// the lock.
func (s *Session) raise(anomalies ...Anomaly) {
	for _, a := range anomalies {
		s.violations = append(s.violations, Violation{Kind: a.Kind, At: s.now().UTC(), Detail: a.Detail})
		s.severity += a.Kind.Severity()
		s.record(audit.Event{
			Kind:   audit.KindViolation,
			Detail: fmt.Sprintf("%s: %s", a.Kind, a.Detail),
		})
		if s.onViolation != nil {
			s.onViolation(a.Kind)
		}
	}
}

// evaluate computes the status transition after a batch of violations. A
// fused score below the hard floor disqualifies immediately, whatever the
// running total. Returns the terminal status reached, or "".
func (s *Session) evaluate(v *biometric.Verdict) Status {
	if s.status.Terminal() {
		return ""
	}
	if v != nil && v.HighConfidenceMismatch(s.policy.HardFloor) {
		s.transition(StatusDisqualified, fmt.Sprintf("fused score %.2f below hard floor %.2f", v.FusedScore, s.policy.HardFloor))
		return StatusDisqualified
	}
	if s.severity >= s.policy.DisqualifyThreshold {
		s.transition(StatusDisqualified, fmt.Sprintf("violation severity %d reached disqualify threshold %d", s.severity, s.policy.DisqualifyThreshold))
		return StatusDisqualified
	}
	if s.status == StatusActive && s.severity >= s.policy.WarnThreshold {
		s.transition(StatusWarned, fmt.Sprintf("violation severity %d reached warn threshold %d", s.severity, s.policy.WarnThreshold))
	}
	return ""
}

func (s *Session) transition(to Status, detail string) {
	from := s.status
	s.status = to
	s.updatedAt = s.now().UTC()
	s.record(audit.Event{
		Kind:   audit.KindStatusChange,
		Detail: fmt.Sprintf("%s -> %s: %s", from, to, detail),
	})
}

func (s *Session) fireTerminal(became Status) {
	if became.Terminal() && s.onTerminal != nil {
		s.onTerminal(became)
	}
}

func (s *Session) record(e audit.Event) {
	if s.trail == nil {
		return
	}
	e.SessionID = s.sessionID
	e.IdentityID = s.identityID
	s.trail.Record(e)
}

func (s *Session) snapshotLocked() State {
	violations := make([]Violation, len(s.violations))
	copy(violations, s.violations)
	return State{
		SessionID:               s.sessionID,
		IdentityID:              s.identityID,
		Status:                  s.status,
		StartedAt:               s.startedAt,
		UpdatedAt:               s.updatedAt,
		FaceChecks:              s.faceChecks,
		VoiceChecks:             s.voiceChecks,
		ConsecutiveFaceFailures: s.consecutiveFaceFailures,
		ConsecutiveAbsences:     s.consecutiveAbsences,
		ViolationCount:          s.severity,
		Violations:              violations,
		LastFaceOutcome:         s.lastFaceOutcome,
		LastVoiceOutcome:        s.lastVoiceOutcome,
		LastFusedScore:          s.lastFused,
	}
}

package surveillance

import (
	"time"

	"vigil/internal/audit"
	"vigil/pkg/domain"
)

// Status is the lifecycle state of one monitored exam attempt.
type Status string

const (
	StatusActive       Status = "active"
	StatusWarned       Status = "warned"
	StatusDisqualified Status = "disqualified"
	StatusCompleted    Status = "completed"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusDisqualified || s == StatusCompleted
}

// ViolationKind names an accumulated offence. Severities, not raw counts,
// drive the warn and disqualify transitions.
type ViolationKind string

const (
	ViolationAbsence        ViolationKind = "absence"
	ViolationFaceMismatch   ViolationKind = "face_mismatch"
	ViolationVoiceMismatch  ViolationKind = "voice_mismatch"
	ViolationIdentityChange ViolationKind = "identity_change"
	ViolationPatternEvasion ViolationKind = "pattern_evasion"
)

// Severity is the weight a violation contributes to the running total. An
// identity change is strong evidence of a substitute and counts double; an
// expired challenge weighs the same as an answered mismatch, since a missed
// challenge is itself a signal.
func (k ViolationKind) Severity() int {
	if k == ViolationIdentityChange {
		return 2
	}
	return 1
}

// Violation is one recorded offence on a session.
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	At     time.Time     `json:"at"`
	Detail string        `json:"detail,omitempty"`
}

// Policy carries the per-session tunables of the state machine and the
// anomaly detector. It is copied at session start so a config reload never
// changes the rules of an attempt already underway.
type Policy struct {
	WarnThreshold       int
	DisqualifyThreshold int
	HardFloor           float64

	AbsenceThreshold     int
	IdentityChangeDelta  float64
	IdentityChangeWindow int
	EvasionWindow        int
	EvasionDipCount      int
}

// State is a point-in-time snapshot of a session, safe to hand to
// transport and to archive when the attempt ends.
type State struct {
	SessionID  domain.SessionID  `json:"session_id"`
	IdentityID domain.IdentityID `json:"identity_id"`
	Status     Status            `json:"status"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FaceChecks  int `json:"face_checks"`
	VoiceChecks int `json:"voice_checks"`

	// ConsecutiveFaceFailures counts rejects and inconclusive face checks
	// since the last accept; ConsecutiveAbsences counts only the
	// inconclusive run feeding absence detection.
	ConsecutiveFaceFailures int `json:"consecutive_face_failures"`
	ConsecutiveAbsences     int `json:"consecutive_absences"`

	// ViolationCount is the severity sum, monotone while the session is
	// not terminal.
	ViolationCount int         `json:"violation_count"`
	Violations     []Violation `json:"violations,omitempty"`

	LastFaceOutcome  audit.Outcome `json:"last_face_outcome,omitempty"`
	LastVoiceOutcome audit.Outcome `json:"last_voice_outcome,omitempty"`
	LastFusedScore   *float64      `json:"last_fused_score,omitempty"`
}

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"vigil/pkg/domain"
)

// Kind classifies what a surveillance event records.
type Kind string

const (
	KindEnrollment       Kind = "enrollment"
	KindVerification     Kind = "verification"
	KindFaceCheck        Kind = "face_check"
	KindVoiceCheck       Kind = "voice_check"
	KindChallengeIssued  Kind = "challenge_issued"
	KindChallengeExpired Kind = "challenge_expired"
	KindViolation        Kind = "violation"
	KindStatusChange     Kind = "status_change"
)

// Outcome is the result of a single modality check.
type Outcome string

const (
	OutcomeMatch    Outcome = "match"
	OutcomeMismatch Outcome = "mismatch"
	// OutcomeInconclusive covers extraction failures: no usable signal,
	// deliberately distinct from a mismatch.
	OutcomeInconclusive Outcome = "extraction_failed"
)

// Event is one link of a session's tamper-evident trail. Every verification
// event, verdict and violation lands here, inconclusive ones included, so
// admins can review and candidates can appeal. Events are append-only and
// never mutated.
//
// Hash covers the canonical JSON of the event body plus PrevHash, chaining
// events per session; altering or dropping any event breaks every hash
// after it.
type Event struct {
	ID         domain.EventID    `json:"id"`
	SessionID  domain.SessionID  `json:"session_id"`
	IdentityID domain.IdentityID `json:"identity_id"`
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`

	Kind     Kind            `json:"kind"`
	Modality domain.Modality `json:"modality,omitempty"`
	Outcome  Outcome         `json:"outcome,omitempty"`

	// Either score may be nil when that modality was not checked at this
	// instant. FusedScore stays recomputable from the components and the
	// configured weights; it is never the sole record.
	FaceScore  *float64 `json:"face_score,omitempty"`
	VoiceScore *float64 `json:"voice_score,omitempty"`
	FusedScore *float64 `json:"fused_score,omitempty"`

	Decision string `json:"decision,omitempty"`
	Detail   string `json:"detail,omitempty"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// ComputeHash returns the chain hash for the event given its predecessor.
// The event's own Hash field is zeroed for hashing so the result is
// reproducible from the stored record.
func ComputeHash(prevHash string, e Event) (string, error) {
	e.Hash = ""
	e.PrevHash = prevHash
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChain walks a session's ordered events and reports the first broken
// link, or nil if the trail is intact.
func VerifyChain(events []Event) error {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return fmt.Errorf("event %d (%s): prev_hash mismatch", i, e.ID)
		}
		want, err := ComputeHash(prev, e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("event %d (%s): hash mismatch", i, e.ID)
		}
		prev = e.Hash
	}
	return nil
}

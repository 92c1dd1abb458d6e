package biometric

import (
	"errors"
	"fmt"
	"math"

	"vigil/pkg/domain"
)

// ErrInvariant marks programming errors surfaced at runtime: out-of-range
// scores, malformed embeddings. These are never silently clamped; the bug
// in the producer must surface, and the cycle that hit it resolves to an
// inconclusive outcome rather than a fabricated decision.
var ErrInvariant = errors.New("invariant violation")

// Decision is the outcome of a fusion evaluation.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// FusionConfig is the validated knob set for score fusion. It is injected
// at construction so per-exam overrides and deterministic tests need no
// ambient state.
type FusionConfig struct {
	FaceWeight  float64
	VoiceWeight float64

	MultimodalThreshold float64
	// Floors a present modality must clear on its own. Guards against an
	// impostor whose voice resembles the candidate's carrying the fused
	// score over the line.
	MinFaceScore  float64
	MinVoiceScore float64
	// Thresholds for single-modality verdicts; zero falls back to
	// MultimodalThreshold.
	FaceOnlyThreshold  float64
	VoiceOnlyThreshold float64
	// Below this fused score a reject is a high-confidence identity
	// mismatch.
	HardFloor float64
}

// Input carries the per-modality scores of one check cycle. A nil score
// means that modality was not checked this cycle; the two modalities run
// on independent cadences, so single-score cycles are normal.
type Input struct {
	FaceScore  *float64
	VoiceScore *float64
}

// Verdict is the immutable result of one fusion evaluation. Session and
// timestamp stamping happen where the verdict is recorded; the engine
// itself is pure so enrollment-time, login-time and continuous checks all
// share this code path.
type Verdict struct {
	FaceScore      *float64
	VoiceScore     *float64
	FusedScore     float64
	Decision       Decision
	SingleModality bool
	// Modality is set when SingleModality is true.
	Modality domain.Modality
	// Threshold actually applied, for the audit trail.
	Threshold float64
	Reason    string
}

// HighConfidenceMismatch reports a reject whose fused score fell below the
// hard floor — strong evidence of a different person, not a bad frame.
func (v Verdict) HighConfidenceMismatch(floor float64) bool {
	return v.Decision == DecisionReject && v.FusedScore < floor
}

// Fusion combines per-modality match scores into one decision.
type Fusion struct {
	cfg FusionConfig
}

// NewFusion validates the configuration and returns the engine. Weight
// misconfiguration is fatal here, at startup, never mid-exam.
func NewFusion(cfg FusionConfig) (*Fusion, error) {
	if math.Abs(cfg.FaceWeight+cfg.VoiceWeight-1.0) > 1e-9 {
		return nil, fmt.Errorf("%w: fusion weights sum to %.4f, want 1.0", ErrInvariant, cfg.FaceWeight+cfg.VoiceWeight)
	}
	if cfg.FaceWeight < 0 || cfg.VoiceWeight < 0 {
		return nil, fmt.Errorf("%w: negative fusion weight", ErrInvariant)
	}
	if cfg.MultimodalThreshold < 0 || cfg.MultimodalThreshold > 1 {
		return nil, fmt.Errorf("%w: multimodal threshold %.4f outside [0,1]", ErrInvariant, cfg.MultimodalThreshold)
	}
	return &Fusion{cfg: cfg}, nil
}

// Fuse evaluates one check cycle. Out-of-range inputs fail fast with
// ErrInvariant: a matcher emitting them is broken and clamping would bury
// the bug inside accept/reject statistics.
func (f *Fusion) Fuse(in Input) (Verdict, error) {
	if in.FaceScore == nil && in.VoiceScore == nil {
		return Verdict{}, fmt.Errorf("%w: fusion requires at least one modality score", ErrInvariant)
	}
	for name, s := range map[string]*float64{"face": in.FaceScore, "voice": in.VoiceScore} {
		if s != nil && (*s < 0 || *s > 1 || math.IsNaN(*s)) {
			return Verdict{}, fmt.Errorf("%w: %s score %v outside [0,1]", ErrInvariant, name, *s)
		}
	}

	v := Verdict{FaceScore: in.FaceScore, VoiceScore: in.VoiceScore}

	switch {
	case in.FaceScore != nil && in.VoiceScore != nil:
		v.FusedScore = f.cfg.FaceWeight**in.FaceScore + f.cfg.VoiceWeight**in.VoiceScore
		v.Threshold = f.cfg.MultimodalThreshold
	case in.FaceScore != nil:
		v.FusedScore = *in.FaceScore
		v.SingleModality = true
		v.Modality = domain.ModalityFace
		v.Threshold = fallback(f.cfg.FaceOnlyThreshold, f.cfg.MultimodalThreshold)
	default:
		v.FusedScore = *in.VoiceScore
		v.SingleModality = true
		v.Modality = domain.ModalityVoice
		v.Threshold = fallback(f.cfg.VoiceOnlyThreshold, f.cfg.MultimodalThreshold)
	}

	v.Decision = DecisionAccept
	if in.FaceScore != nil && *in.FaceScore < f.cfg.MinFaceScore {
		v.Decision = DecisionReject
		v.Reason = fmt.Sprintf("face score %.2f below floor %.2f", *in.FaceScore, f.cfg.MinFaceScore)
	}
	if in.VoiceScore != nil && *in.VoiceScore < f.cfg.MinVoiceScore {
		v.Decision = DecisionReject
		v.Reason = fmt.Sprintf("voice score %.2f below floor %.2f", *in.VoiceScore, f.cfg.MinVoiceScore)
	}
	if v.Decision == DecisionAccept && v.FusedScore < v.Threshold {
		v.Decision = DecisionReject
		v.Reason = fmt.Sprintf("fused score %.2f below threshold %.2f", v.FusedScore, v.Threshold)
	}
	return v, nil
}

// HardFloor exposes the configured high-confidence mismatch floor.
func (f *Fusion) HardFloor() float64 { return f.cfg.HardFloor }

func fallback(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

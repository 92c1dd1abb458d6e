package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vigil/internal/audit"
	"vigil/internal/biometric"
	"vigil/internal/enrollment"
	"vigil/internal/extractor"
	"vigil/internal/verify/metrics"
	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// Service performs point-in-time identity verification: enrollment of a
// candidate's reference biometrics and the login-time gate before an exam
// attempt starts. It shares the matcher and fusion engine with continuous
// surveillance, so tuning a threshold tunes every code path at once.
type Service struct {
	enrolls   enrollment.Store
	extractor extractor.Extractor
	matcher   *biometric.Matcher
	fusion    *biometric.Fusion
	trail     *audit.Logger
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func New(enrolls enrollment.Store, ext extractor.Extractor, matcher *biometric.Matcher, fusion *biometric.Fusion, trail *audit.Logger, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		enrolls:   enrolls,
		extractor: ext,
		matcher:   matcher,
		fusion:    fusion,
		trail:     trail,
		metrics:   m,
		log:       log,
	}
}

// Enroll extracts reference embeddings from a face image and a spoken
// phrase and stores them as the identity's enrollment record. Both
// modalities must yield a usable signal; re-enrolling replaces the whole
// record, never one half of it.
func (s *Service) Enroll(ctx context.Context, identityID domain.IdentityID, faceImage, voiceAudio []byte, phrase string) (enrollment.Record, error) {
	if len(faceImage) == 0 || len(voiceAudio) == 0 {
		return enrollment.Record{}, fmt.Errorf("%w: enrollment requires both a face image and a voice sample", sentinel.ErrUnsupportedFormat)
	}

	faceEmbedding, err := s.extractRetry(ctx, domain.ModalityFace, faceImage)
	if err != nil {
		return enrollment.Record{}, fmt.Errorf("extract face: %w", err)
	}
	voiceEmbedding, err := s.extractRetry(ctx, domain.ModalityVoice, voiceAudio)
	if err != nil {
		return enrollment.Record{}, fmt.Errorf("extract voice: %w", err)
	}

	rec := enrollment.Record{
		IdentityID:     identityID,
		FaceEmbedding:  faceEmbedding,
		VoiceEmbedding: voiceEmbedding,
		VoicePhrase:    phrase,
		EnrolledAt:     time.Now().UTC(),
	}
	if err := s.enrolls.Put(ctx, rec); err != nil {
		return enrollment.Record{}, fmt.Errorf("store enrollment: %w", err)
	}

	if s.trail != nil {
		s.trail.Record(audit.Event{
			IdentityID: identityID,
			Kind:       audit.KindEnrollment,
			Detail:     "reference face and voice embeddings enrolled",
		})
	}
	if s.metrics != nil {
		s.metrics.Enrollments.Inc()
	}
	s.log.Info("identity enrolled", "identity_id", identityID)
	return rec, nil
}

// Verify matches the provided biometric samples against the identity's
// enrollment and fuses them into one verdict. Either sample may be
// omitted; with one modality present the verdict degrades to
// single-modality. A sample whose extraction fails is dropped from the
// cycle; if nothing usable remains the verification is inconclusive and
// ErrExtractionFailed is returned.
func (s *Service) Verify(ctx context.Context, identityID domain.IdentityID, faceImage, voiceAudio []byte) (biometric.Verdict, error) {
	if len(faceImage) == 0 && len(voiceAudio) == 0 {
		return biometric.Verdict{}, fmt.Errorf("%w: verification requires at least one biometric sample", sentinel.ErrUnsupportedFormat)
	}

	enrolled, err := s.enrolls.Get(ctx, identityID)
	if err != nil {
		return biometric.Verdict{}, fmt.Errorf("load enrollment for %s: %w", identityID, err)
	}

	var in biometric.Input
	if len(faceImage) > 0 {
		if score, err := s.score(ctx, domain.ModalityFace, faceImage, enrolled.FaceEmbedding); err == nil {
			in.FaceScore = &score
		} else if !recoverable(err) {
			return biometric.Verdict{}, err
		}
	}
	if len(voiceAudio) > 0 {
		if score, err := s.score(ctx, domain.ModalityVoice, voiceAudio, enrolled.VoiceEmbedding); err == nil {
			in.VoiceScore = &score
		} else if !recoverable(err) {
			return biometric.Verdict{}, err
		}
	}

	if in.FaceScore == nil && in.VoiceScore == nil {
		s.recordVerification(identityID, nil)
		return biometric.Verdict{}, fmt.Errorf("no usable signal in any provided sample: %w", sentinel.ErrExtractionFailed)
	}

	verdict, err := s.fusion.Fuse(in)
	if err != nil {
		return biometric.Verdict{}, fmt.Errorf("fuse scores: %w", err)
	}

	s.recordVerification(identityID, &verdict)
	if s.metrics != nil {
		s.metrics.Verifications.WithLabelValues(string(verdict.Decision)).Inc()
	}
	s.log.Info("identity verified",
		"identity_id", identityID,
		"decision", verdict.Decision,
		"fused_score", verdict.FusedScore,
		"single_modality", verdict.SingleModality)
	return verdict, nil
}

// recoverable reports whether a modality failure leaves the cycle able to
// continue on the other modality. Malformed input is the caller's fault
// and surfaces; a failed or unreachable extraction only degrades.
func recoverable(err error) bool {
	return errors.Is(err, sentinel.ErrExtractionFailed)
}

func (s *Service) score(ctx context.Context, m domain.Modality, sample []byte, stored []float64) (float64, error) {
	live, err := s.extractRetry(ctx, m, sample)
	if err != nil {
		return 0, err
	}
	score, err := s.matcher.Match(live, stored)
	if err != nil {
		return 0, fmt.Errorf("match %s embedding: %w", m, err)
	}
	return score, nil
}

// extractRetry retries exactly once when the extractor was unreachable; a
// second transport failure resolves to an extraction failure.
func (s *Service) extractRetry(ctx context.Context, m domain.Modality, sample []byte) ([]float64, error) {
	extract := s.extractor.ExtractFace
	if m == domain.ModalityVoice {
		extract = s.extractor.ExtractVoice
	}
	embedding, err := extract(ctx, sample)
	if errors.Is(err, sentinel.ErrTransport) {
		s.log.Warn("extractor unreachable, retrying once", "modality", m, "error", err)
		embedding, err = extract(ctx, sample)
		if errors.Is(err, sentinel.ErrTransport) {
			return nil, errors.Join(sentinel.ErrExtractionFailed, err)
		}
	}
	return embedding, err
}

func (s *Service) recordVerification(identityID domain.IdentityID, v *biometric.Verdict) {
	if s.trail == nil {
		return
	}
	e := audit.Event{
		IdentityID: identityID,
		Kind:       audit.KindVerification,
		Outcome:    audit.OutcomeInconclusive,
	}
	if v != nil {
		fused := v.FusedScore
		e.FaceScore = v.FaceScore
		e.VoiceScore = v.VoiceScore
		e.FusedScore = &fused
		e.Decision = string(v.Decision)
		e.Detail = v.Reason
		e.Outcome = audit.OutcomeMatch
		if v.Decision == biometric.DecisionReject {
			e.Outcome = audit.OutcomeMismatch
		}
	}
	s.trail.Record(e)
}

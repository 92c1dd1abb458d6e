package surveillance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/audit"
	"vigil/internal/biometric"
	"vigil/internal/challenge"
	"vigil/internal/enrollment"
	"vigil/internal/platform/config"
	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// fakeExtractor returns canned embeddings without an upstream model.
type fakeExtractor struct {
	face     []float64
	faceErr  error
	voice    []float64
	voiceErr error
}

func (f *fakeExtractor) ExtractFace(context.Context, []byte) ([]float64, error) {
	return f.face, f.faceErr
}

func (f *fakeExtractor) ExtractVoice(context.Context, []byte) ([]float64, error) {
	return f.voice, f.voiceErr
}

type ManagerSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	manager   *Manager
	extractor *fakeExtractor
	scheduler *challenge.Scheduler
	enrolls   enrollment.Store

	identityID domain.IdentityID
	enrolled   enrollment.Record
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cfg := config.FromEnv()
	// Long intervals keep the background tickers quiet; these tests drive
	// the manager surface directly.
	cfg.FaceCheckInterval = time.Hour
	cfg.VoiceChallengeInterval = time.Hour
	cfg.ChallengeResponseWindow = time.Minute
	s.Require().NoError(cfg.Validate())

	s.identityID = domain.NewIdentityID()
	s.enrolled = enrollment.Record{
		IdentityID:     s.identityID,
		FaceEmbedding:  []float64{0.2, 0.7, 0.1},
		VoiceEmbedding: []float64{0.5, 0.1, 0.9},
		VoicePhrase:    "enrollment phrase",
		EnrolledAt:     time.Now(),
	}
	s.enrolls = enrollment.NewMemoryStore()
	s.Require().NoError(s.enrolls.Put(s.ctx, s.enrolled))

	s.extractor = &fakeExtractor{
		face:  s.enrolled.FaceEmbedding,
		voice: s.enrolled.VoiceEmbedding,
	}

	fusion, err := biometric.NewFusion(biometric.FusionConfig{
		FaceWeight:          cfg.FaceWeight,
		VoiceWeight:         cfg.VoiceWeight,
		MultimodalThreshold: cfg.MultimodalThreshold,
		MinFaceScore:        cfg.MinFaceScore,
		MinVoiceScore:       cfg.MinVoiceScore,
		HardFloor:           cfg.HardFloor,
	})
	s.Require().NoError(err)

	s.scheduler, err = challenge.NewScheduler(challenge.NewMemoryStore(), cfg.ChallengePhrases, cfg.ChallengeResponseWindow)
	s.Require().NoError(err)

	trail := audit.NewLogger(audit.NewMemoryStore(), nil, discardTestLogger())
	s.manager = NewManager(s.ctx, cfg, s.enrolls, s.extractor, biometric.NewMatcher(), fusion, s.scheduler, trail, nil, discardTestLogger())
}

func (s *ManagerSuite) TearDownTest() {
	s.manager.Close()
	s.cancel()
}

func (s *ManagerSuite) startSession() domain.SessionID {
	sessionID := domain.NewSessionID()
	st, err := s.manager.StartAttempt(s.ctx, sessionID, s.identityID)
	s.Require().NoError(err)
	s.Require().Equal(StatusActive, st.Status)
	return sessionID
}

func (s *ManagerSuite) TestStartAttempt() {
	s.Run("unknown identity is rejected", func() {
		_, err := s.manager.StartAttempt(s.ctx, domain.NewSessionID(), domain.NewIdentityID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("starting twice conflicts", func() {
		sessionID := s.startSession()
		_, err := s.manager.StartAttempt(s.ctx, sessionID, s.identityID)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("a session id is never reused", func() {
		sessionID := s.startSession()
		_, err := s.manager.EndAttempt(s.ctx, sessionID)
		s.Require().NoError(err)
		_, err = s.manager.StartAttempt(s.ctx, sessionID, s.identityID)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *ManagerSuite) TestLifecycle() {
	sessionID := s.startSession()

	s.Run("status reports the live state", func() {
		st, err := s.manager.Status(sessionID)
		s.Require().NoError(err)
		s.Equal(StatusActive, st.Status)
		s.Equal(s.identityID, st.IdentityID)
	})

	s.Run("frames are accepted while live", func() {
		s.Require().NoError(s.manager.SubmitFrame(sessionID, []byte("jpeg bytes")))
	})

	s.Run("end completes and freezes the session", func() {
		st, err := s.manager.EndAttempt(s.ctx, sessionID)
		s.Require().NoError(err)
		s.Equal(StatusCompleted, st.Status)

		_, err = s.manager.EndAttempt(s.ctx, sessionID)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		s.Require().ErrorIs(s.manager.SubmitFrame(sessionID, []byte("late")), sentinel.ErrInvalidState)
	})

	s.Run("final status stays queryable", func() {
		st, err := s.manager.Status(sessionID)
		s.Require().NoError(err)
		s.Equal(StatusCompleted, st.Status)
	})

	s.Run("unknown session is not found", func() {
		_, err := s.manager.Status(domain.NewSessionID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.manager.EndAttempt(s.ctx, domain.NewSessionID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ManagerSuite) TestAnswerChallenge() {
	sessionID := s.startSession()
	ch, err := s.scheduler.Issue(s.ctx, sessionID)
	s.Require().NoError(err)

	s.Run("pending challenge is visible", func() {
		got, err := s.manager.PendingChallenge(s.ctx, sessionID)
		s.Require().NoError(err)
		s.Equal(ch.ID, got.ID)
		s.NotEmpty(got.Phrase)
	})

	s.Run("matching voice is accepted and consumes the challenge", func() {
		verdict, err := s.manager.AnswerChallenge(s.ctx, sessionID, ch.ID, []byte("wav bytes"))
		s.Require().NoError(err)
		s.Equal(biometric.DecisionAccept, verdict.Decision)
		s.True(verdict.SingleModality)

		_, err = s.manager.AnswerChallenge(s.ctx, sessionID, ch.ID, []byte("wav bytes"))
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)

		st, err := s.manager.Status(sessionID)
		s.Require().NoError(err)
		s.Equal(1, st.VoiceChecks)
		s.Equal(0, st.ViolationCount)
	})

	s.Run("unknown challenge is not found", func() {
		_, err := s.manager.AnswerChallenge(s.ctx, sessionID, domain.NewChallengeID(), []byte("wav bytes"))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ManagerSuite) TestAnswerChallengeMismatchPath() {
	sessionID := s.startSession()
	ch, err := s.scheduler.Issue(s.ctx, sessionID)
	s.Require().NoError(err)

	// An opposed embedding scores 0 against the voiceprint: reject, and
	// below the hard floor, so the attempt disqualifies on the spot.
	s.extractor.voice = []float64{-0.5, -0.1, -0.9}

	verdict, err := s.manager.AnswerChallenge(s.ctx, sessionID, ch.ID, []byte("wav bytes"))
	s.Require().NoError(err)
	s.Equal(biometric.DecisionReject, verdict.Decision)

	st, err := s.manager.Status(sessionID)
	s.Require().NoError(err)
	s.Equal(StatusDisqualified, st.Status)

	s.Run("disqualification tears the attempt down", func() {
		s.Require().ErrorIs(s.manager.SubmitFrame(sessionID, []byte("late")), sentinel.ErrInvalidState)
		_, err := s.scheduler.Pending(s.ctx, sessionID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ManagerSuite) TestAnswerChallengeInconclusiveKeepsChallenge() {
	sessionID := s.startSession()
	ch, err := s.scheduler.Issue(s.ctx, sessionID)
	s.Require().NoError(err)

	s.extractor.voiceErr = sentinel.ErrExtractionFailed
	_, err = s.manager.AnswerChallenge(s.ctx, sessionID, ch.ID, []byte("silence"))
	s.Require().ErrorIs(err, sentinel.ErrExtractionFailed)

	// The candidate may retry the same challenge.
	s.extractor.voiceErr = nil
	verdict, err := s.manager.AnswerChallenge(s.ctx, sessionID, ch.ID, []byte("wav bytes"))
	s.Require().NoError(err)
	s.Equal(biometric.DecisionAccept, verdict.Decision)

	st, err := s.manager.Status(sessionID)
	s.Require().NoError(err)
	s.Equal(0, st.ViolationCount, "no signal is not a mismatch")
	s.Equal(2, st.VoiceChecks)
}

func (s *ManagerSuite) TestTransportFailureIsRetriedThenInconclusive() {
	sessionID := s.startSession()
	ch, err := s.scheduler.Issue(s.ctx, sessionID)
	s.Require().NoError(err)

	s.extractor.voiceErr = sentinel.ErrTransport
	_, err = s.manager.AnswerChallenge(s.ctx, sessionID, ch.ID, []byte("wav bytes"))
	s.Require().ErrorIs(err, sentinel.ErrExtractionFailed, "a repeated transport failure resolves to inconclusive")

	st, err := s.manager.Status(sessionID)
	s.Require().NoError(err)
	s.Equal(0, st.ViolationCount)
	s.Equal(audit.OutcomeInconclusive, st.LastVoiceOutcome)
}

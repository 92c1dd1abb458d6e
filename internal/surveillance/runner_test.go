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
	"vigil/pkg/domain"
)

type RunnerSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc

	session   *Session
	runner    *Runner
	frames    *FrameBuffer
	extractor *fakeExtractor
	scheduler *challenge.Scheduler
	enrolled  enrollment.Record
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.enrolled = enrollment.Record{
		IdentityID:     domain.NewIdentityID(),
		FaceEmbedding:  []float64{0.3, 0.6, 0.2},
		VoiceEmbedding: []float64{0.1, 0.8, 0.4},
	}
	s.extractor = &fakeExtractor{face: s.enrolled.FaceEmbedding, voice: s.enrolled.VoiceEmbedding}
	s.frames = NewFrameBuffer()

	var err error
	s.scheduler, err = challenge.NewScheduler(challenge.NewMemoryStore(), []string{"phrase one", "phrase two"}, time.Minute)
	s.Require().NoError(err)

	fusion, err := biometric.NewFusion(biometric.FusionConfig{
		FaceWeight:          0.6,
		VoiceWeight:         0.4,
		MultimodalThreshold: 0.65,
		MinFaceScore:        0.5,
		MinVoiceScore:       0.55,
		HardFloor:           0.3,
	})
	s.Require().NoError(err)

	trail := audit.NewLogger(audit.NewMemoryStore(), nil, discardTestLogger())
	s.session = NewSession(domain.NewSessionID(), s.enrolled.IdentityID, testPolicy(), trail)

	s.runner = NewRunner(s.session, s.enrolled, RunnerDeps{
		Frames:    s.frames,
		Extractor: s.extractor,
		Matcher:   biometric.NewMatcher(),
		Fusion:    fusion,
		Scheduler: s.scheduler,
		Trail:     trail,
		Log:       discardTestLogger(),
	}, 20*time.Millisecond, 25*time.Millisecond)
}

func (s *RunnerSuite) TearDownTest() {
	s.cancel()
}

func (s *RunnerSuite) run() {
	go func() { _ = s.runner.Run(s.ctx) }()
}

func (s *RunnerSuite) TestNoFramesBecomesAbsence() {
	s.run()
	s.Eventually(func() bool {
		st := s.session.Snapshot()
		for _, v := range st.Violations {
			if v.Kind == ViolationAbsence {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "missed face checks should raise an absence violation")
}

func (s *RunnerSuite) TestStreamedFramesKeepTheSessionClean() {
	s.run()
	feed, stopFeed := context.WithCancel(s.ctx)
	defer stopFeed()
	go func() {
		for feed.Err() == nil {
			_ = s.frames.Push(s.session.sessionID, []byte("frame"))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	s.Eventually(func() bool {
		return s.session.Snapshot().FaceChecks >= 3
	}, 2*time.Second, 10*time.Millisecond)

	st := s.session.Snapshot()
	s.Equal(audit.OutcomeMatch, st.LastFaceOutcome)
	s.Equal(0, st.ViolationCount)
	s.Equal(StatusActive, st.Status)
}

func (s *RunnerSuite) TestChallengesAreIssuedOnCadence() {
	s.run()
	s.Eventually(func() bool {
		_, err := s.scheduler.Pending(s.ctx, s.session.sessionID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *RunnerSuite) TestSweepTurnsExpiryIntoMismatch() {
	// Drive the sweep directly with an already-expired challenge; the
	// interval loop is exercised above.
	shortLived, err := challenge.NewScheduler(challenge.NewMemoryStore(), []string{"phrase one", "phrase two"}, time.Millisecond)
	s.Require().NoError(err)
	s.runner.scheduler = shortLived

	_, err = shortLived.Issue(s.ctx, s.session.sessionID)
	s.Require().NoError(err)
	time.Sleep(5 * time.Millisecond)

	s.runner.sweepExpired(s.ctx)

	st := s.session.Snapshot()
	s.Require().Len(st.Violations, 1)
	s.Equal(ViolationVoiceMismatch, st.Violations[0].Kind)
	s.Equal(audit.OutcomeMismatch, st.LastVoiceOutcome)
}

func (s *RunnerSuite) TestRunStopsOnCancel() {
	done := make(chan error, 1)
	go func() { done <- s.runner.Run(s.ctx) }()
	s.cancel()
	select {
	case err := <-done:
		s.Require().ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("runner did not stop on cancellation")
	}
}

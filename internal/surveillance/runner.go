package surveillance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/audit"
	"vigil/internal/biometric"
	"vigil/internal/challenge"
	"vigil/internal/enrollment"
	"vigil/internal/extractor"
	"vigil/internal/surveillance/metrics"
	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// Runner drives one session's check cadence: a face check on every face
// tick, a voice challenge on every voice tick, and a sweep that expires
// unanswered challenges. The three loops are independent; a face check and
// a voice challenge due in the same instant both proceed. A failed cycle
// never cancels the schedule — the next tick simply fires.
type Runner struct {
	session   *Session
	enrolled  enrollment.Record
	frames    *FrameBuffer
	extractor extractor.Extractor
	matcher   *biometric.Matcher
	fusion    *biometric.Fusion
	scheduler *challenge.Scheduler
	trail     *audit.Logger
	metrics   *metrics.Metrics
	log       *slog.Logger

	faceInterval  time.Duration
	voiceInterval time.Duration
	sweepInterval time.Duration

	lastIssued domain.ChallengeID
}

// RunnerDeps bundles the collaborators a runner shares with its manager.
type RunnerDeps struct {
	Frames    *FrameBuffer
	Extractor extractor.Extractor
	Matcher   *biometric.Matcher
	Fusion    *biometric.Fusion
	Scheduler *challenge.Scheduler
	Trail     *audit.Logger
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

func NewRunner(session *Session, enrolled enrollment.Record, deps RunnerDeps, faceInterval, voiceInterval time.Duration) *Runner {
	sweep := voiceInterval / 8
	if sweep < time.Second {
		sweep = time.Second
	}
	return &Runner{
		session:       session,
		enrolled:      enrolled,
		frames:        deps.Frames,
		extractor:     deps.Extractor,
		matcher:       deps.Matcher,
		fusion:        deps.Fusion,
		scheduler:     deps.Scheduler,
		trail:         deps.Trail,
		metrics:       deps.Metrics,
		log:           deps.Log.With("session_id", session.sessionID),
		faceInterval:  faceInterval,
		voiceInterval: voiceInterval,
		sweepInterval: sweep,
	}
}

// Run blocks until ctx is cancelled, supervising the three schedule loops.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.loop(ctx, r.faceInterval, r.faceCheck) })
	g.Go(func() error { return r.loop(ctx, r.voiceInterval, r.issueChallenge) })
	g.Go(func() error { return r.loop(ctx, r.sweepInterval, r.sweepExpired) })
	return g.Wait()
}

// loop runs fn on every tick. fn's errors are logged, never returned: a
// single failed cycle must not bring the schedule down.
func (r *Runner) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// faceCheck runs one face cycle: take the freshest buffered frame, extract
// an embedding, match it against the enrolled face and fuse. No frame or
// no signal resolves to an inconclusive result, never an error.
func (r *Runner) faceCheck(ctx context.Context) {
	seq, err := r.session.BeginCheck(domain.ModalityFace)
	if err != nil {
		// Slot busy or session already terminal; nothing to do this tick.
		return
	}
	start := time.Now()

	frameBytes, err := r.frames.Take(r.session.sessionID, r.faceInterval)
	if err != nil {
		r.applyFace(seq, nil, start)
		return
	}

	embedding, err := r.extractWithRetry(ctx, domain.ModalityFace, frameBytes)
	if err != nil {
		if !errors.Is(err, sentinel.ErrExtractionFailed) {
			r.log.Warn("face extraction errored", "error", err)
		}
		r.applyFace(seq, nil, start)
		return
	}

	verdict, err := r.evaluate(domain.ModalityFace, embedding)
	if err != nil {
		r.log.Error("face check produced no verdict", "error", err)
		r.applyFace(seq, nil, start)
		return
	}
	r.applyFace(seq, &verdict, start)
}

func (r *Runner) applyFace(seq uint64, v *biometric.Verdict, start time.Time) {
	applied := r.session.ApplyFaceResult(seq, v)
	if !applied || r.metrics == nil {
		return
	}
	outcome := string(audit.OutcomeInconclusive)
	if v != nil {
		outcome = string(audit.OutcomeMatch)
		if v.Decision == biometric.DecisionReject {
			outcome = string(audit.OutcomeMismatch)
		}
	}
	r.metrics.ObserveCheck(string(domain.ModalityFace), outcome, start)
}

// issueChallenge puts a fresh voice challenge in front of the candidate.
// Issue is idempotent while one is pending, so a tick landing mid-window
// changes nothing.
func (r *Runner) issueChallenge(ctx context.Context) {
	ch, err := r.scheduler.Issue(ctx, r.session.sessionID)
	if err != nil {
		r.log.Warn("voice challenge issue failed", "error", err)
		return
	}
	if ch.ID == r.lastIssued {
		return
	}
	r.lastIssued = ch.ID
	if r.metrics != nil {
		r.metrics.ChallengesIssued.Inc()
	}
	if r.trail != nil {
		r.trail.Record(audit.Event{
			SessionID:  r.session.sessionID,
			IdentityID: r.session.identityID,
			Kind:       audit.KindChallengeIssued,
			Modality:   domain.ModalityVoice,
			Detail:     "challenge " + ch.ID.String() + " issued",
		})
	}
}

// sweepExpired turns an unanswered past-window challenge into the mismatch
// it is.
func (r *Runner) sweepExpired(ctx context.Context) {
	ch, err := r.scheduler.ExpireDue(ctx, r.session.sessionID)
	if err != nil {
		r.log.Warn("challenge expiry sweep failed", "error", err)
		return
	}
	if ch == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.ChallengesExpired.Inc()
	}
	r.session.ChallengeExpired(ch.ID)
}

// evaluate matches a live embedding against the enrolled one and fuses it
// as a single-modality verdict. Invariant violations from the matcher are
// bugs: logged loudly, resolved as no-verdict.
func (r *Runner) evaluate(m domain.Modality, live []float64) (biometric.Verdict, error) {
	stored := r.enrolled.FaceEmbedding
	if m == domain.ModalityVoice {
		stored = r.enrolled.VoiceEmbedding
	}
	score, err := r.matcher.Match(live, stored)
	if err != nil {
		return biometric.Verdict{}, err
	}
	in := biometric.Input{}
	if m == domain.ModalityVoice {
		in.VoiceScore = &score
	} else {
		in.FaceScore = &score
	}
	return r.fusion.Fuse(in)
}

// extractWithRetry calls the extractor, retrying exactly once when the
// upstream was unreachable. A second transport failure is treated as an
// extraction failure: the cycle is inconclusive, the schedule unaffected.
func (r *Runner) extractWithRetry(ctx context.Context, m domain.Modality, payload []byte) ([]float64, error) {
	extract := r.extractor.ExtractFace
	if m == domain.ModalityVoice {
		extract = r.extractor.ExtractVoice
	}
	embedding, err := extract(ctx, payload)
	if errors.Is(err, sentinel.ErrTransport) {
		r.log.Warn("extractor unreachable, retrying once", "modality", m, "error", err)
		embedding, err = extract(ctx, payload)
		if errors.Is(err, sentinel.ErrTransport) {
			return nil, errors.Join(sentinel.ErrExtractionFailed, err)
		}
	}
	return embedding, err
}

package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/audit"
	"vigil/internal/biometric"
	"vigil/internal/challenge"
	"vigil/internal/enrollment"
	platformmetrics "vigil/internal/platform/metrics"
	"vigil/internal/surveillance"
	"vigil/pkg/domain"
)

// VerifyService is the point-in-time verification surface the transport
// depends on.
type VerifyService interface {
	Enroll(ctx context.Context, identityID domain.IdentityID, faceImage, voiceAudio []byte, phrase string) (enrollment.Record, error)
	Verify(ctx context.Context, identityID domain.IdentityID, faceImage, voiceAudio []byte) (biometric.Verdict, error)
}

// SessionManager is the continuous-surveillance surface the transport
// depends on.
type SessionManager interface {
	StartAttempt(ctx context.Context, sessionID domain.SessionID, identityID domain.IdentityID) (surveillance.State, error)
	EndAttempt(ctx context.Context, sessionID domain.SessionID) (surveillance.State, error)
	SubmitFrame(sessionID domain.SessionID, data []byte) error
	PendingChallenge(ctx context.Context, sessionID domain.SessionID) (challenge.Challenge, error)
	AnswerChallenge(ctx context.Context, sessionID domain.SessionID, challengeID domain.ChallengeID, audio []byte) (biometric.Verdict, error)
	Status(sessionID domain.SessionID) (surveillance.State, error)
	Audit(ctx context.Context, sessionID domain.SessionID) ([]audit.Event, error)
}

// HealthCheck reports the health of one backing dependency.
type HealthCheck func(ctx context.Context) error

// NewRouter wires the public endpoints.
func NewRouter(h *Handler, health map[string]HealthCheck, m *platformmetrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Post("/enroll", h.handleEnroll)
	r.Post("/verify", h.handleVerify)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/start", h.handleStartSession)
		r.Post("/end", h.handleEndSession)
		r.Post("/face-check", h.handleFaceCheck)
		r.Get("/voice-challenge", h.handleVoiceChallenge)
		r.Post("/voice-check", h.handleVoiceCheck)
		r.Get("/status", h.handleStatus)
		r.Get("/audit", h.handleAudit)
	})

	r.Get("/healthz", handleHealth(health))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		report := make(map[string]string, len(checks)+1)
		report["status"] = "ok"
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				report["status"] = "degraded"
				continue
			}
			report[name] = "ok"
		}
		writeJSON(w, status, report)
	}
}

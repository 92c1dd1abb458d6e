package httptransport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vigil/internal/biometric"
	"vigil/pkg/domain"
	"vigil/pkg/sentinel"
)

// Handler is the thin HTTP layer over the verification service and the
// surveillance manager. It decodes, validates and translates; decisions
// live in the services.
type Handler struct {
	verifier VerifyService
	sessions SessionManager
	log      *slog.Logger
}

func NewHandler(verifier VerifyService, sessions SessionManager, log *slog.Logger) *Handler {
	return &Handler{verifier: verifier, sessions: sessions, log: log}
}

type enrollRequest struct {
	IdentityID string `json:"identity_id"`
	FaceImage  []byte `json:"face_image"`
	VoiceAudio []byte `json:"voice_audio"`
	Phrase     string `json:"phrase"`
}

type enrollResponse struct {
	IdentityID string `json:"identity_id"`
	EnrolledAt string `json:"enrolled_at"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", sentinel.ErrUnsupportedFormat))
		return
	}
	identityID, err := domain.ParseIdentityID(req.IdentityID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid identity_id", sentinel.ErrUnsupportedFormat))
		return
	}

	rec, err := h.verifier.Enroll(r.Context(), identityID, req.FaceImage, req.VoiceAudio, req.Phrase)
	if err != nil {
		h.log.WarnContext(r.Context(), "enrollment failed", "identity_id", identityID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollResponse{
		IdentityID: rec.IdentityID.String(),
		EnrolledAt: rec.EnrolledAt.Format(timeLayout),
	})
}

type verifyRequest struct {
	IdentityID string `json:"identity_id"`
	FaceImage  []byte `json:"face_image,omitempty"`
	VoiceAudio []byte `json:"voice_audio,omitempty"`
}

type verdictResponse struct {
	Decision       string   `json:"decision"`
	FusedScore     float64  `json:"fused_score"`
	FaceScore      *float64 `json:"face_score,omitempty"`
	VoiceScore     *float64 `json:"voice_score,omitempty"`
	SingleModality bool     `json:"single_modality"`
	Modality       string   `json:"modality,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

func toVerdictResponse(v biometric.Verdict) verdictResponse {
	return verdictResponse{
		Decision:       string(v.Decision),
		FusedScore:     v.FusedScore,
		FaceScore:      v.FaceScore,
		VoiceScore:     v.VoiceScore,
		SingleModality: v.SingleModality,
		Modality:       string(v.Modality),
		Reason:         v.Reason,
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", sentinel.ErrUnsupportedFormat))
		return
	}
	identityID, err := domain.ParseIdentityID(req.IdentityID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid identity_id", sentinel.ErrUnsupportedFormat))
		return
	}

	verdict, err := h.verifier.Verify(r.Context(), identityID, req.FaceImage, req.VoiceAudio)
	if err != nil {
		h.log.WarnContext(r.Context(), "verification failed", "identity_id", identityID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerdictResponse(verdict))
}

type startSessionRequest struct {
	IdentityID string `json:"identity_id"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", sentinel.ErrUnsupportedFormat))
		return
	}
	identityID, err := domain.ParseIdentityID(req.IdentityID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid identity_id", sentinel.ErrUnsupportedFormat))
		return
	}

	state, err := h.sessions.StartAttempt(r.Context(), sessionID, identityID)
	if err != nil {
		h.log.WarnContext(r.Context(), "attempt start failed", "session_id", sessionID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	state, err := h.sessions.EndAttempt(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type faceCheckRequest struct {
	Frame []byte `json:"frame"`
}

// handleFaceCheck buffers the candidate's latest camera frame. The
// session's scheduler consumes it on the next face tick, so the response
// is an acknowledgement, not a verdict.
func (h *Handler) handleFaceCheck(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req faceCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", sentinel.ErrUnsupportedFormat))
		return
	}
	if err := h.sessions.SubmitFrame(sessionID, req.Frame); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type challengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Phrase      string `json:"phrase"`
	ExpiresAt   string `json:"expires_at"`
}

func (h *Handler) handleVoiceChallenge(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	ch, err := h.sessions.PendingChallenge(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{
		ChallengeID: ch.ID.String(),
		Phrase:      ch.Phrase,
		ExpiresAt:   ch.ExpiresAt.Format(timeLayout),
	})
}

type voiceCheckRequest struct {
	ChallengeID string `json:"challenge_id"`
	VoiceAudio  []byte `json:"voice_audio"`
}

func (h *Handler) handleVoiceCheck(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req voiceCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", sentinel.ErrUnsupportedFormat))
		return
	}
	challengeID, err := domain.ParseChallengeID(req.ChallengeID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid challenge_id", sentinel.ErrUnsupportedFormat))
		return
	}

	verdict, err := h.sessions.AnswerChallenge(r.Context(), sessionID, challengeID, req.VoiceAudio)
	if err != nil {
		h.log.WarnContext(r.Context(), "voice check failed", "session_id", sessionID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerdictResponse(verdict))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	state, err := h.sessions.Status(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	events, err := h.sessions.Audit(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (domain.SessionID, bool) {
	id, err := domain.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid session id", sentinel.ErrUnsupportedFormat))
		return domain.SessionID{}, false
	}
	return id, true
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

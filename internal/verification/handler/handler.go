// Package handler wires the verification endpoints to the intake, liveness
// and finalization services. It owns session resolution from the session
// header; all domain decisions live in the services.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attesto/internal/session"
	"attesto/internal/verification/finalize"
	"attesto/internal/verification/intake"
	"attesto/internal/verification/liveness"
	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/platform/httputil"
	"attesto/pkg/platform/sentinel"
	"attesto/pkg/requestcontext"
)

// IntakeService runs document intake.
type IntakeService interface {
	PrepareDocument(ctx context.Context, sess *session.Session, image []byte) (*intake.Result, error)
}

// LivenessService runs biometric scoring.
type LivenessService interface {
	PrepareLiveness(ctx context.Context, sess *session.Session, draftID id.DraftID, documentImage, selfieImage []byte) (*liveness.Result, error)
}

// FinalizeService runs asynchronous finalization.
type FinalizeService interface {
	FinalizeAsync(ctx context.Context, sess *session.Session, draftID id.DraftID, fheKeyID string) (*finalize.Status, error)
	FinalizeStatus(ctx context.Context, sess *session.Session, jobID id.JobID) (*finalize.Status, error)
}

// Handler exposes the verification endpoints.
type Handler struct {
	intake   IntakeService
	liveness LivenessService
	finalize FinalizeService
	sessions session.Store
	logger   *slog.Logger
}

// New constructs a verification handler with its dependencies.
func New(intakeSvc IntakeService, livenessSvc LivenessService, finalizeSvc FinalizeService, sessions session.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		intake:   intakeSvc,
		liveness: livenessSvc,
		finalize: finalizeSvc,
		sessions: sessions,
		logger:   logger,
	}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verification/document", h.HandleDocument)
	r.Post("/verification/liveness", h.HandleLiveness)
	r.Post("/verification/finalize", h.HandleFinalize)
	r.Get("/verification/finalize/{jobID}", h.HandleFinalizeStatus)
}

type documentRequest struct {
	Image []byte `json:"image"`
}

type documentResponse struct {
	SessionID string `json:"sessionId"`
	*intake.Result
}

// HandleDocument handles POST /verification/document. A request without a
// session header starts a fresh onboarding session.
func (h *Handler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[documentRequest](w, r)
	if !ok {
		return
	}

	sess, err := h.resolveSession(ctx, true)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.intake.PrepareDocument(ctx, sess, req.Image)
	if err != nil {
		h.logger.ErrorContext(ctx, "document intake failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sess.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "document prepared",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", sess.ID,
		"draft_id", result.DraftID,
		"valid", result.IsDocumentValid,
		"duplicate", result.IsDuplicateDocument,
	)
	httputil.WriteJSON(w, http.StatusOK, documentResponse{SessionID: sess.ID.String(), Result: result})
}

type livenessRequest struct {
	DraftID       string `json:"draftId"`
	DocumentImage []byte `json:"documentImage"`
	SelfieImage   []byte `json:"selfieImage"`
}

// HandleLiveness handles POST /verification/liveness.
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[livenessRequest](w, r)
	if !ok {
		return
	}
	draftID, err := id.ParseDraftID(req.DraftID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sess, err := h.resolveSession(ctx, false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.liveness.PrepareLiveness(ctx, sess, draftID, req.DocumentImage, req.SelfieImage)
	if err != nil {
		h.logger.ErrorContext(ctx, "liveness scoring failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sess.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type finalizeRequest struct {
	DraftID  string `json:"draftId"`
	FheKeyID string `json:"fheKeyId"`
}

// HandleFinalize handles POST /verification/finalize.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[finalizeRequest](w, r)
	if !ok {
		return
	}
	draftID, err := id.ParseDraftID(req.DraftID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sess, err := h.resolveSession(ctx, false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status, err := h.finalize.FinalizeAsync(ctx, sess, draftID, req.FheKeyID)
	if err != nil {
		h.logger.ErrorContext(ctx, "finalize scheduling failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sess.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, status)
}

// HandleFinalizeStatus handles GET /verification/finalize/{jobID}.
func (h *Handler) HandleFinalizeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sess, err := h.resolveSession(ctx, false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status, err := h.finalize.FinalizeStatus(ctx, sess, jobID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// resolveSession loads the session named by the request header. Document
// intake may start a fresh session; every later step requires an existing one.
func (h *Handler) resolveSession(ctx context.Context, allowCreate bool) (*session.Session, error) {
	sessionID := requestcontext.SessionID(ctx)
	if sessionID.IsZero() {
		if !allowCreate {
			return nil, dErrors.New(dErrors.CodeForbidden, "session header is required")
		}
		now := requestcontext.Now(ctx)
		sess := &session.Session{
			ID:        id.NewSessionID(),
			UserID:    requestcontext.UserID(ctx),
			Step:      session.StepDocument,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.sessions.Save(ctx, sess); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create session")
		}
		return sess, nil
	}

	sess, err := h.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeForbidden, "unknown session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load session")
	}
	return sess, nil
}

// Package handler exposes the proof challenge endpoint.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attesto/internal/challenge"
	"attesto/pkg/platform/httputil"
	"attesto/pkg/requestcontext"
)

// Service issues proof challenges.
type Service interface {
	Issue(ctx context.Context, circuitType challenge.CircuitType) (*challenge.Challenge, error)
}

// Handler wires the challenge endpoint to the challenge service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a challenge handler.
func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the challenge endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/proof/challenge", h.HandleIssue)
}

type issueRequest struct {
	CircuitType string `json:"circuitType"`
}

// HandleIssue handles POST /proof/challenge.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[issueRequest](w, r)
	if !ok {
		return
	}

	issued, err := h.service.Issue(ctx, challenge.CircuitType(req.CircuitType))
	if err != nil {
		h.logger.ErrorContext(ctx, "challenge issue failed",
			"request_id", requestcontext.RequestID(ctx),
			"circuit_type", req.CircuitType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issued)
}

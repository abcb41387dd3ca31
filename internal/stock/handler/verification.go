package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farmaflow/farmaflow-backend/internal/stock/service"
	"github.com/farmaflow/farmaflow-backend/internal/stock/session"
	"github.com/farmaflow/farmaflow-backend/pkg/httputil"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
)

// VerificationHandler handles two-scan verification endpoints
type VerificationHandler struct {
	service *service.VerificationService
	logger  *logger.Logger
}

// NewVerificationHandler creates a new verification handler
func NewVerificationHandler(svc *service.VerificationService, log *logger.Logger) *VerificationHandler {
	return &VerificationHandler{
		service: svc,
		logger:  log,
	}
}

// Start opens a new verification session
func (h *VerificationHandler) Start(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Start(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, sess)
}

// Get fetches a session's current state
func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sess)
}

// Scan submits a barcode for the session's current step
func (h *VerificationHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Barcode string `json:"barcode" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	sess, err := h.service.SubmitScan(r.Context(), id, req.Barcode)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sess)
}

// Validate reports whether the session has completed both scans. A
// complete session echoes the verified pair; an incomplete one states
// which scan is still missing.
func (h *VerificationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	resp := map[string]interface{}{
		"session_id": sess.ID,
		"step":       sess.Step,
		"complete":   sess.Step == session.StepComplete,
	}
	switch sess.Step {
	case session.StepComplete:
		resp["product"] = sess.Product
		resp["lot"] = sess.Lot
	case session.StepLot:
		resp["reason"] = "awaiting lot scan"
	default:
		resp["reason"] = "awaiting product scan"
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// Finalize consumes a completed session, returning the verified pair
func (h *VerificationHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.service.Finalize(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sess)
}

// Cancel abandons a session
func (h *VerificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

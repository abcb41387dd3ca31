package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farmaflow/farmaflow-backend/internal/stock/service"
	"github.com/farmaflow/farmaflow-backend/pkg/httputil"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
)

// SyncHandler handles offline sale reconciliation endpoints
type SyncHandler struct {
	service *service.SyncService
	logger  *logger.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(svc *service.SyncService, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		service: svc,
		logger:  log,
	}
}

// ProcessBatch replays a batch of offline sales
func (h *SyncHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sales []service.OfflineSaleEnvelope `json:"sales"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.service.ProcessBatch(r.Context(), req.Sales)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// ListPending lists conflicted sales awaiting retry or resolution
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	sales, err := h.service.ListPending(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sales)
}

// Resolve marks a conflicted sale as manually resolved
func (h *SyncHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleId")

	if err := h.service.Resolve(r.Context(), saleID); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

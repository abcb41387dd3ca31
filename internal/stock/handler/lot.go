package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
	"github.com/farmaflow/farmaflow-backend/internal/stock/service"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
	"github.com/farmaflow/farmaflow-backend/pkg/httputil"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
)

// LotHandler handles lot and allocation endpoints
type LotHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(svc *service.StockService, log *logger.Logger) *LotHandler {
	return &LotHandler{
		service: svc,
		logger:  log,
	}
}

// List lists lots with optional filters
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.LotFilter{
		ProductID:  r.URL.Query().Get("product_id"),
		SupplierID: r.URL.Query().Get("supplier_id"),
		SortBy:     r.URL.Query().Get("sort_by"),
	}

	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, errors.BadRequest("active must be true or false"))
			return
		}
		filter.Active = &active
	}

	if v := r.URL.Query().Get("expiring_before"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httputil.Error(w, errors.BadRequest("expiring_before must be a date in YYYY-MM-DD format"))
			return
		}
		filter.ExpiringBefore = &t
	}

	lots, err := h.service.ListLots(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Create creates a new lot
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var lot repository.Lot
	if err := httputil.DecodeJSON(r, &lot); err != nil {
		httputil.Error(w, err)
		return
	}

	lot.IsActive = true
	if err := h.service.CreateLot(r.Context(), &lot); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, lot)
}

// Get gets a lot by ID
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// GetByBarcode gets an active lot by barcode
func (h *LotHandler) GetByBarcode(w http.ResponseWriter, r *http.Request) {
	barcode := chi.URLParam(r, "barcode")

	lot, err := h.service.GetLotByBarcode(r.Context(), barcode)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// ListNearExpiry lists lots expiring within the window
func (h *LotHandler) ListNearExpiry(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			httputil.Error(w, errors.BadRequest("days must be a positive integer"))
			return
		}
		days = parsed
	}

	lots, err := h.service.ListNearExpiry(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Update updates a lot's mutable fields
func (h *LotHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var lot repository.Lot
	if err := httputil.DecodeJSON(r, &lot); err != nil {
		httputil.Error(w, err)
		return
	}

	lot.ID = id
	if err := h.service.UpdateLot(r.Context(), &lot); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Delete soft-deletes a lot
func (h *LotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteLot(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// ListMovements lists the movement ledger for a lot
func (h *LotHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	movements, err := h.service.ListMovements(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movements)
}

// Reserve earmarks quantity on a lot
func (h *LotHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Quantity int    `json:"quantity" validate:"required,gt=0"`
		Reason   string `json:"reason"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.Reserve(r.Context(), id, req.Quantity, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movement)
}

// Release returns reserved quantity to availability
func (h *LotHandler) Release(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Quantity int    `json:"quantity" validate:"required,gt=0"`
		Reason   string `json:"reason"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.Release(r.Context(), id, req.Quantity, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	// A fully clamped release moves nothing and writes no movement.
	if movement == nil {
		httputil.NoContent(w)
		return
	}
	httputil.JSON(w, http.StatusOK, movement)
}

// Confirm consumes previously reserved stock under a sale reference
func (h *LotHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Quantity int    `json:"quantity" validate:"required,gt=0"`
		SaleRef  string `json:"sale_ref" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.Confirm(r.Context(), id, req.Quantity, req.SaleRef)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movement)
}

// Adjust sets a lot's quantity to an absolute value
func (h *LotHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Quantity int    `json:"quantity" validate:"gte=0"`
		Reason   string `json:"reason" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.DirectAdjust(r.Context(), id, req.Quantity, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movement)
}

// Return puts sold stock back onto a lot
func (h *LotHandler) Return(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Quantity int    `json:"quantity" validate:"required,gt=0"`
		SaleRef  string `json:"sale_ref"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.Return(r.Context(), id, req.Quantity, req.SaleRef)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movement)
}

// WriteOff writes off the unreserved remainder of an expired lot
func (h *LotHandler) WriteOff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.service.WriteOffExpired(r.Context(), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movement)
}

// ListByProduct lists a product's active lots in FEFO order
func (h *LotHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	lots, err := h.service.ListLotsByProduct(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// AllocationPlan previews a FEFO plan without mutating stock
func (h *LotHandler) AllocationPlan(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || qty <= 0 {
		httputil.Error(w, errors.BadRequest("quantity must be a positive integer"))
		return
	}

	plan, err := h.service.PlanAllocation(r.Context(), productID, qty)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}

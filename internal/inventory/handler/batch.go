package handler

import (
	"net/http"
	"strconv"

	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// BatchHandler handles stock ledger endpoints
type BatchHandler struct {
	ledger *service.LedgerService
	logger *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(ledger *service.LedgerService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		ledger: ledger,
		logger: log,
	}
}

// ListByItem lists batches for an item
func (h *BatchHandler) ListByItem(w http.ResponseWriter, r *http.Request) {
	batches, err := h.ledger.ItemBatches(r.Context(), chi.URLParam(r, "id"), httputil.QueryBool(r, "include_empty"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// Receive records a batch outside a purchase order
func (h *BatchHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req service.ReceiptInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.ItemID = chi.URLParam(r, "id")

	batch, err := h.ledger.RecordReceipt(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// Consume draws stock from an item in FEFO order
func (h *BatchHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req service.ConsumeInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.ItemID = chi.URLParam(r, "id")

	result, err := h.ledger.Consume(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Movements lists an item's stock movements
func (h *BatchHandler) Movements(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)

	movements, total, err := h.ledger.ListMovements(r.Context(), chi.URLParam(r, "id"), page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, httputil.NewMeta(page, perPage, total))
}

// List lists ledger batches
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	q := r.URL.Query()

	query := service.BatchQuery{
		ItemID:       q.Get("item_id"),
		Location:     q.Get("location"),
		IncludeEmpty: httputil.QueryBool(r, "include_empty"),
		Page:         page,
		PerPage:      perPage,
	}
	if raw := q.Get("expiring_within_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("expiring_within_days must be a number"))
			return
		}
		query.ExpiringWithinDays = &days
	}

	batches, total, err := h.ledger.ListBatches(r.Context(), query)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, batches, httputil.NewMeta(page, perPage, total))
}

// Adjust applies a signed correction to a batch
func (h *BatchHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req service.AdjustInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.ledger.Adjust(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

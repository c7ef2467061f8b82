package handler

import (
	"net/http"

	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// GoodsReceiptHandler handles goods receipt endpoints
type GoodsReceiptHandler struct {
	receipts *service.GoodsReceiptService
	logger   *logger.Logger
}

// NewGoodsReceiptHandler creates a new goods receipt handler
func NewGoodsReceiptHandler(receipts *service.GoodsReceiptService, log *logger.Logger) *GoodsReceiptHandler {
	return &GoodsReceiptHandler{
		receipts: receipts,
		logger:   log,
	}
}

// Post records a delivery against a purchase order
func (h *GoodsReceiptHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req service.PostReceiptInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	gr, err := h.receipts.Post(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, gr)
}

// List lists goods receipts
func (h *GoodsReceiptHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)

	receipts, total, err := h.receipts.List(r.Context(), repository.ReceiptFilter{
		PurchaseOrderID: r.URL.Query().Get("purchase_order_id"),
		Page:            page,
		PerPage:         perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, receipts, httputil.NewMeta(page, perPage, total))
}

// Get gets a receipt with its lines
func (h *GoodsReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	gr, err := h.receipts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, gr)
}

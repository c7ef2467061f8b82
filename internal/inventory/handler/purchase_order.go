package handler

import (
	"net/http"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// PurchaseOrderHandler handles purchase order endpoints
type PurchaseOrderHandler struct {
	orders *service.PurchaseOrderService
	logger *logger.Logger
}

// NewPurchaseOrderHandler creates a new purchase order handler
func NewPurchaseOrderHandler(orders *service.PurchaseOrderService, log *logger.Logger) *PurchaseOrderHandler {
	return &PurchaseOrderHandler{
		orders: orders,
		logger: log,
	}
}

// List lists purchase orders, newest first
func (h *PurchaseOrderHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)

	orders, total, err := h.orders.List(r.Context(), repository.OrderFilter{
		Status:     domain.OrderStatus(r.URL.Query().Get("status")),
		SupplierID: r.URL.Query().Get("supplier_id"),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, orders, httputil.NewMeta(page, perPage, total))
}

// Get gets an order with its lines
func (h *PurchaseOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	po, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, po)
}

// Create creates an order
func (h *PurchaseOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	po, err := h.orders.Create(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, po)
}

// Submit moves a draft to ordered
func (h *PurchaseOrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	po, err := h.orders.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, po)
}

// SendEmail asks for the order to be emailed to its supplier
func (h *PurchaseOrderHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	po, err := h.orders.SendToSupplier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, po)
}

// Cancel cancels an order. The body is optional.
func (h *PurchaseOrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req service.CancelOrderInput
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	po, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, po)
}

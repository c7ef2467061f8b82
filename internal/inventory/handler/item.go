package handler

import (
	"net/http"

	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// ItemHandler handles item and category endpoints
type ItemHandler struct {
	catalog *service.CatalogService
	logger  *logger.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(catalog *service.CatalogService, log *logger.Logger) *ItemHandler {
	return &ItemHandler{
		catalog: catalog,
		logger:  log,
	}
}

// List lists inventory items
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	q := r.URL.Query()

	filter := repository.ItemFilter{
		CategoryID:      q.Get("category"),
		LowStockOnly:    httputil.QueryBool(r, "lowStockOnly", "low_stock_only"),
		Query:           q.Get("q"),
		IncludeInactive: httputil.QueryBool(r, "include_inactive"),
		Page:            page,
		PerPage:         perPage,
	}

	items, total, err := h.catalog.ListItems(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, items, httputil.NewMeta(page, perPage, total))
}

// Get gets an item with its batches
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Create creates a new item
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.ItemInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.catalog.CreateItem(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, item)
}

// Update replaces the editable fields of an item
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.ItemInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.catalog.UpdateItem(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Deactivate soft-deletes an item
func (h *ItemHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.DeactivateItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Activate restores a deactivated item
func (h *ItemHandler) Activate(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.ActivateItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// ListCategories lists item categories
func (h *ItemHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, categories)
}

// CreateCategory creates a category
func (h *ItemHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req service.CategoryInput
	if err := decode(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	category, err := h.catalog.CreateCategory(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, category)
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v interface{}) error {
	if err := httputil.DecodeJSON(r, v); err != nil {
		return err
	}
	return httputil.Validate(v)
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AlertHandler handles alert endpoints
type AlertHandler struct {
	engine *service.AlertEngine
	logger *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(engine *service.AlertEngine, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		engine: engine,
		logger: log,
	}
}

// List lists unresolved alerts, newest first, read or not unless is_read is given
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)

	var isRead *bool
	if v := r.URL.Query().Get("is_read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, errors.BadRequest("is_read must be true or false"))
			return
		}
		isRead = &read
	}

	alerts, total, err := h.engine.ListAlerts(r.Context(), repository.AlertFilter{
		Type:    domain.AlertType(r.URL.Query().Get("type")),
		IsRead:  isRead,
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, alerts, httputil.NewMeta(page, perPage, total))
}

// MarkRead marks an alert read by the current user
func (h *AlertHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	alert, err := h.engine.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alert)
}

// Evaluate runs an alert evaluation for the current tenant
func (h *AlertHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Evaluate(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

package handler

import (
	"net/http"

	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
)

// ReportHandler handles report endpoints
type ReportHandler struct {
	valuation *service.ValuationReporter
	logger    *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(valuation *service.ValuationReporter, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		valuation: valuation,
		logger:    log,
	}
}

// Value returns the stock valuation report
func (h *ReportHandler) Value(w http.ResponseWriter, r *http.Request) {
	report, err := h.valuation.Report(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

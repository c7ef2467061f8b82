package handler

import (
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// Services are the inventory services the HTTP API exposes.
type Services struct {
	Catalog   *service.CatalogService
	Ledger    *service.LedgerService
	Orders    *service.PurchaseOrderService
	Receipts  *service.GoodsReceiptService
	Alerts    *service.AlertEngine
	Valuation *service.ValuationReporter
}

// Routes returns the /api/v1/inventory router. Callers mount it behind
// middleware that puts the tenant and actor in the request context.
func Routes(svc Services, log *logger.Logger) chi.Router {
	items := NewItemHandler(svc.Catalog, log)
	batches := NewBatchHandler(svc.Ledger, log)
	orders := NewPurchaseOrderHandler(svc.Orders, log)
	receipts := NewGoodsReceiptHandler(svc.Receipts, log)
	alerts := NewAlertHandler(svc.Alerts, log)
	reports := NewReportHandler(svc.Valuation, log)

	read := httputil.RequirePermission(permissions.InventoryRead)
	write := httputil.RequirePermission(permissions.InventoryWrite)
	receive := httputil.RequirePermission(permissions.InventoryReceive)
	adjust := httputil.RequirePermission(permissions.InventoryAdjust)
	manageAlerts := httputil.RequirePermission(permissions.InventoryAlertsManage)

	r := chi.NewRouter()

	r.Route("/categories", func(r chi.Router) {
		r.With(read).Get("/", items.ListCategories)
		r.With(write).Post("/", items.CreateCategory)
	})

	r.Route("/items", func(r chi.Router) {
		r.With(read).Get("/", items.List)
		r.With(write).Post("/", items.Create)
		r.With(read).Get("/{id}", items.Get)
		r.With(write).Put("/{id}", items.Update)
		r.With(write).Post("/{id}/deactivate", items.Deactivate)
		r.With(write).Post("/{id}/activate", items.Activate)
		r.With(read).Get("/{id}/batches", batches.ListByItem)
		r.With(receive).Post("/{id}/batches", batches.Receive)
		r.With(adjust).Post("/{id}/consume", batches.Consume)
		r.With(read).Get("/{id}/movements", batches.Movements)
	})

	r.Route("/batches", func(r chi.Router) {
		r.With(read).Get("/", batches.List)
		r.With(adjust).Post("/{id}/adjust", batches.Adjust)
	})

	r.Route("/purchase-orders", func(r chi.Router) {
		r.With(read).Get("/", orders.List)
		r.With(write).Post("/", orders.Create)
		r.With(read).Get("/{id}", orders.Get)
		r.With(write).Post("/{id}/submit", orders.Submit)
		r.With(write).Post("/{id}/send-email", orders.SendEmail)
		r.With(write).Post("/{id}/cancel", orders.Cancel)
	})

	r.Route("/goods-receipts", func(r chi.Router) {
		r.With(read).Get("/", receipts.List)
		r.With(receive).Post("/", receipts.Post)
		r.With(read).Get("/{id}", receipts.Get)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.With(read).Get("/", alerts.List)
		r.With(manageAlerts).Put("/{id}/read", alerts.MarkRead)
		r.With(manageAlerts).Post("/evaluate", alerts.Evaluate)
	})

	r.With(read).Get("/reports/value", reports.Value)

	return r
}

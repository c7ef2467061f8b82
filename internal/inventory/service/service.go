package service

import (
	"context"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/pkg/config"
	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
)

// Transactor groups store calls into one tenant-scoped transaction. Calls
// made with the ctx handed to fn join it.
type Transactor interface {
	WithinTenant(ctx context.Context, fn func(ctx context.Context) error) error
}

// ItemStore persists catalog items.
type ItemStore interface {
	Create(ctx context.Context, item *repository.InventoryItem) error
	Update(ctx context.Context, item *repository.InventoryItem) error
	SetActive(ctx context.Context, id string, active bool) error
	GetByID(ctx context.Context, id string) (*repository.InventoryItem, error)
	LockByID(ctx context.Context, id string) (*repository.InventoryItem, error)
	GetByIDs(ctx context.Context, ids []string) ([]*repository.InventoryItem, error)
	SKUTaken(ctx context.Context, sku, excludeID string) (bool, error)
	BarcodeTaken(ctx context.Context, barcode, excludeID string) (bool, error)
	List(ctx context.Context, filter repository.ItemFilter) ([]*repository.InventoryItem, int64, error)
	All(ctx context.Context, includeInactive bool) ([]*repository.InventoryItem, error)
}

// CategoryStore persists item categories.
type CategoryStore interface {
	Create(ctx context.Context, c *repository.Category) error
	GetByID(ctx context.Context, id string) (*repository.Category, error)
	List(ctx context.Context) ([]*repository.Category, error)
}

// BatchStore persists stock batches and the movement ledger.
type BatchStore interface {
	Create(ctx context.Context, batch *repository.StockBatch) error
	GetByID(ctx context.Context, id string) (*repository.StockBatch, error)
	LockByID(ctx context.Context, id string) (*repository.StockBatch, error)
	LockAvailableByItem(ctx context.Context, itemID string) ([]*repository.StockBatch, error)
	UpdateQuantity(ctx context.Context, id string, quantity int) error
	NumberExists(ctx context.Context, itemID, batchNumber string) (bool, error)
	ListByItem(ctx context.Context, itemID string, includeEmpty bool) ([]*repository.StockBatch, error)
	List(ctx context.Context, filter repository.BatchFilter) ([]*repository.StockBatch, int64, error)
	ListWithStock(ctx context.Context) ([]*repository.StockBatch, error)
	CurrentStock(ctx context.Context, itemID string) (int, error)
	StockTotals(ctx context.Context) (map[string]int, error)
	CreateMovement(ctx context.Context, m *repository.StockMovement) error
	ListMovements(ctx context.Context, itemID string, page, perPage int) ([]*repository.StockMovement, int64, error)
}

// OrderStore persists purchase orders and their lines.
type OrderStore interface {
	Create(ctx context.Context, po *repository.PurchaseOrder) error
	GetByID(ctx context.Context, id string) (*repository.PurchaseOrder, error)
	LockByID(ctx context.Context, id string) (*repository.PurchaseOrder, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*repository.PurchaseOrder, int64, error)
	ListPendingEmails(ctx context.Context) ([]*repository.PurchaseOrder, error)
	Update(ctx context.Context, po *repository.PurchaseOrder) error
	UpdateLineReceived(ctx context.Context, lineID string, received int) error
	HasOpenLines(ctx context.Context, itemID string) (bool, error)
}

// ReceiptStore persists goods receipts.
type ReceiptStore interface {
	Create(ctx context.Context, gr *repository.GoodsReceipt) error
	GetByID(ctx context.Context, id string) (*repository.GoodsReceipt, error)
	List(ctx context.Context, filter repository.ReceiptFilter) ([]*repository.GoodsReceipt, int64, error)
	ExistsForOrder(ctx context.Context, purchaseOrderID string) (bool, error)
}

// AlertStore persists stock alerts.
type AlertStore interface {
	EnsureOpen(ctx context.Context, alert *repository.StockAlert) (bool, error)
	Resolve(ctx context.Context, key domain.AlertKey, at time.Time) (*repository.StockAlert, error)
	ListOpen(ctx context.Context) ([]*repository.StockAlert, error)
	List(ctx context.Context, filter repository.AlertFilter) ([]*repository.StockAlert, int64, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) (*repository.StockAlert, error)
}

// TenantStore lists the tenants background jobs run for.
type TenantStore interface {
	ListActive(ctx context.Context) ([]*repository.Tenant, error)
}

// EventPublisher announces inventory changes to other services. Publishing is
// best effort and never fails the operation that triggered it.
type EventPublisher interface {
	GoodsReceived(ctx context.Context, receipt *repository.GoodsReceipt, order *repository.PurchaseOrder)
	StockConsumed(ctx context.Context, result *ConsumeResult)
	StockAdjusted(ctx context.Context, movement *repository.StockMovement)
	AlertGenerated(ctx context.Context, alert *repository.StockAlert)
	AlertResolved(ctx context.Context, alert *repository.StockAlert)
}

// SupplierNotifier hands a purchase order to the email collaborator.
type SupplierNotifier interface {
	RequestOrderEmail(ctx context.Context, po *repository.PurchaseOrder) error
}

// ReportCache stores rendered reports.
type ReportCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Stores bundles the persistence the services share.
type Stores struct {
	Tx         Transactor
	Items      ItemStore
	Categories CategoryStore
	Batches    BatchStore
	Orders     OrderStore
	Receipts   ReceiptStore
	Alerts     AlertStore
	Tenants    TenantStore
}

// NewStores wires the PostgreSQL repositories.
func NewStores(db *database.DB) Stores {
	return Stores{
		Tx:         db,
		Items:      repository.NewItemRepository(db),
		Categories: repository.NewCategoryRepository(db),
		Batches:    repository.NewBatchRepository(db),
		Orders:     repository.NewPurchaseOrderRepository(db),
		Receipts:   repository.NewGoodsReceiptRepository(db),
		Alerts:     repository.NewAlertRepository(db),
		Tenants:    repository.NewTenantRepository(db),
	}
}

// Deps holds everything the inventory services are built from. Events,
// Notifier and Cache are optional.
type Deps struct {
	Stores
	Config   config.InventoryConfig
	Events   EventPublisher
	Notifier SupplierNotifier
	Cache    ReportCache
	Logger   *logger.Logger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = nopEvents{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Config.ExpiryWindowDays <= 0 {
		d.Config.ExpiryWindowDays = domain.DefaultExpiryWindowDays
	}
	if d.Config.DefaultLocation == "" {
		d.Config.DefaultLocation = "main-store"
	}
	return d
}

type nopEvents struct{}

func (nopEvents) GoodsReceived(context.Context, *repository.GoodsReceipt, *repository.PurchaseOrder) {}
func (nopEvents) StockConsumed(context.Context, *ConsumeResult)                                  {}
func (nopEvents) StockAdjusted(context.Context, *repository.StockMovement)                       {}
func (nopEvents) AlertGenerated(context.Context, *repository.StockAlert)                         {}
func (nopEvents) AlertResolved(context.Context, *repository.StockAlert)                          {}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

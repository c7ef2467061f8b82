package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/inventorytest"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/config"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// now is the fixed clock of every service test.
var now = time.Date(2026, 10, 17, 14, 30, 0, 0, time.UTC)

func day(offset int) time.Time {
	return testutil.Date(2026, 10, 17).AddDate(0, 0, offset)
}

type env struct {
	ctx       context.Context
	store     *inventorytest.Store
	events    *recordingEvents
	notifier  *fakeNotifier
	cache     *memoryCache
	clock     *clock
	deps      service.Deps
	catalog   *service.CatalogService
	ledger    *service.LedgerService
	orders    *service.PurchaseOrderService
	receipts  *service.GoodsReceiptService
	alerts    *service.AlertEngine
	valuation *service.ValuationReporter
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newEnv(t *testing.T, opts ...func(*service.Deps)) *env {
	t.Helper()

	store := inventorytest.NewStore()
	clk := &clock{t: now}
	store.SetClock(clk.Now)
	store.AddTenant(testutil.TestTenantID, "Test Clinic")

	e := &env{
		ctx:      testutil.TenantContext(),
		store:    store,
		events:   &recordingEvents{},
		notifier: &fakeNotifier{},
		cache:    newMemoryCache(),
		clock:    clk,
	}
	e.deps = service.Deps{
		Stores: store.Stores(),
		Config: config.InventoryConfig{
			ExpiryWindowDays: 30,
			ReportCacheTTL:   time.Minute,
			DefaultLocation:  "main-store",
		},
		Events:   e.events,
		Notifier: e.notifier,
		Cache:    e.cache,
		Now:      clk.Now,
	}
	for _, opt := range opts {
		opt(&e.deps)
	}

	e.catalog = service.NewCatalogService(e.deps)
	e.ledger = service.NewLedgerService(e.deps)
	e.orders = service.NewPurchaseOrderService(e.deps)
	e.receipts = service.NewGoodsReceiptService(e.deps, e.ledger)
	e.alerts = service.NewAlertEngine(e.deps)
	e.valuation = service.NewValuationReporter(e.deps)
	return e
}

func (e *env) item(t *testing.T, sku string, reorderPoint int) *repository.InventoryItem {
	t.Helper()
	item, err := e.catalog.CreateItem(e.ctx, service.ItemInput{
		SKU:           sku,
		Name:          "Item " + sku,
		Unit:          "box",
		PurchasePrice: decimal.NewFromFloat(2.50),
		SalePrice:     decimal.NewFromFloat(4.00),
		MRP:           decimal.NewFromFloat(4.50),
		MinimumStock:  reorderPoint / 2,
		ReorderPoint:  reorderPoint,
	})
	require.NoError(t, err)
	return item
}

func (e *env) batch(t *testing.T, itemID, number string, qty int, expiry time.Time) *repository.StockBatch {
	t.Helper()
	b, err := e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{
		ItemID:      itemID,
		BatchNumber: number,
		Quantity:    qty,
		ExpiryDate:  expiry,
	})
	require.NoError(t, err)
	return b
}

func (e *env) order(t *testing.T, lines ...service.OrderLineInput) *repository.PurchaseOrder {
	t.Helper()
	po, err := e.orders.Create(e.ctx, service.CreateOrderInput{
		SupplierID: "supplier-1",
		Submit:     true,
		Lines:      lines,
	})
	require.NoError(t, err)
	return po
}

func line(itemID string, qty int, price float64) service.OrderLineInput {
	return service.OrderLineInput{ItemID: itemID, QuantityOrdered: qty, UnitPrice: decimal.NewFromFloat(price)}
}

func (e *env) stock(t *testing.T, itemID string) int {
	t.Helper()
	n, err := e.ledger.CurrentStock(e.ctx, itemID)
	require.NoError(t, err)
	return n
}

func openAlerts(store *inventorytest.Store, t domain.AlertType) []*repository.StockAlert {
	var out []*repository.StockAlert
	for _, a := range store.OpenAlerts() {
		if a.AlertType == t {
			out = append(out, a)
		}
	}
	return out
}

type recordingEvents struct {
	mu        sync.Mutex
	received  []*repository.GoodsReceipt
	consumed  []*service.ConsumeResult
	adjusted  []*repository.StockMovement
	generated []*repository.StockAlert
	resolved  []*repository.StockAlert
}

func (r *recordingEvents) GoodsReceived(_ context.Context, gr *repository.GoodsReceipt, _ *repository.PurchaseOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, gr)
}

func (r *recordingEvents) StockConsumed(_ context.Context, res *service.ConsumeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumed = append(r.consumed, res)
}

func (r *recordingEvents) StockAdjusted(_ context.Context, m *repository.StockMovement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adjusted = append(r.adjusted, m)
}

func (r *recordingEvents) AlertGenerated(_ context.Context, a *repository.StockAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated = append(r.generated, a)
}

func (r *recordingEvents) AlertResolved(_ context.Context, a *repository.StockAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, a)
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (n *fakeNotifier) RequestOrderEmail(_ context.Context, po *repository.PurchaseOrder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, po.ID)
	return nil
}

func (n *fakeNotifier) fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.deletes++
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

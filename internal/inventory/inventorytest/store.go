// Package inventorytest provides an in-memory implementation of the inventory
// stores for service and handler tests.
package inventorytest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/google/uuid"
)

type txKey struct{}

type state struct {
	seq        int64
	order      map[string]int64
	items      map[string]*repository.InventoryItem
	categories map[string]*repository.Category
	batches    map[string]*repository.StockBatch
	movements  []*repository.StockMovement
	orders     map[string]*repository.PurchaseOrder
	receipts   map[string]*repository.GoodsReceipt
	alerts     map[string]*repository.StockAlert
	tenants    []*repository.Tenant
}

func newState() *state {
	return &state{
		order:      map[string]int64{},
		items:      map[string]*repository.InventoryItem{},
		categories: map[string]*repository.Category{},
		batches:    map[string]*repository.StockBatch{},
		orders:     map[string]*repository.PurchaseOrder{},
		receipts:   map[string]*repository.GoodsReceipt{},
		alerts:     map[string]*repository.StockAlert{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.order {
		c.order[k] = v
	}
	for k, v := range s.items {
		c.items[k] = copyItem(v)
	}
	for k, v := range s.categories {
		cp := *v
		c.categories[k] = &cp
	}
	for k, v := range s.batches {
		c.batches[k] = copyBatch(v)
	}
	c.movements = append(c.movements, s.movements...)
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.receipts {
		c.receipts[k] = copyReceipt(v)
	}
	for k, v := range s.alerts {
		c.alerts[k] = copyAlert(v)
	}
	c.tenants = append(c.tenants, s.tenants...)
	return c
}

func (s *state) stamp(id string) {
	s.seq++
	s.order[id] = s.seq
}

// Store keeps every inventory table in memory. Transactions are serialized
// and roll back by restoring a snapshot taken when they began.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	now  func() time.Time

	failures map[string]error
	calls    map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		st:       newState(),
		now:      time.Now,
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

// SetClock sets the clock used for created_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes op fail with err. key narrows the failure to one item id; an
// empty key fails every call. Ops are named like "Batches.Create".
func (s *Store) FailOn(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+"|"+key] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// must be called with mu held
func (s *Store) check(op, key string) error {
	s.calls[op]++
	if err, ok := s.failures[op+"|"+key]; ok {
		return err
	}
	if err, ok := s.failures[op+"|"]; ok {
		return err
	}
	return nil
}

// Stores returns the store wired as every service dependency.
func (s *Store) Stores() service.Stores {
	return service.Stores{
		Tx:         s,
		Items:      &items{s},
		Categories: &categories{s},
		Batches:    &batches{s},
		Orders:     &orders{s},
		Receipts:   &receipts{s},
		Alerts:     &alerts{s},
		Tenants:    &tenants{s},
	}
}

// WithinTenant runs fn in a transaction. Nested calls join the outer one.
func (s *Store) WithinTenant(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, err := tenant.TenantID(ctx); err != nil {
		return err
	}
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// AddTenant registers an active tenant for background jobs.
func (s *Store) AddTenant(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants = append(s.st.tenants, &repository.Tenant{ID: id, Name: name, IsActive: true, CreatedAt: s.now()})
}

// Batch returns a copy of a stored batch, or nil.
func (s *Store) Batch(id string) *repository.StockBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.st.batches[id]; ok {
		return copyBatch(b)
	}
	return nil
}

// ItemBatches returns copies of every batch of an item, empty ones included.
func (s *Store) ItemBatches(itemID string) []*repository.StockBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.StockBatch
	for _, b := range s.st.batches {
		if b.ItemID == itemID {
			out = append(out, copyBatch(b))
		}
	}
	sortBatches(out)
	return out
}

// Order returns a copy of a stored order, or nil.
func (s *Store) Order(id string) *repository.PurchaseOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.st.orders[id]; ok {
		return copyOrder(o)
	}
	return nil
}

// Movements returns every ledger entry in insertion order.
func (s *Store) Movements() []*repository.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.StockMovement, len(s.st.movements))
	for i, m := range s.st.movements {
		cp := *m
		out[i] = &cp
	}
	return out
}

// Alerts returns copies of every alert, resolved ones included.
func (s *Store) Alerts() []*repository.StockAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.StockAlert, 0, len(s.st.alerts))
	for _, a := range s.st.alerts {
		out = append(out, copyAlert(a))
	}
	s.sortOldestFirst(out, func(i int) string { return out[i].ID })
	return out
}

// OpenAlerts returns copies of the unresolved alerts.
func (s *Store) OpenAlerts() []*repository.StockAlert {
	var open []*repository.StockAlert
	for _, a := range s.Alerts() {
		if !a.IsResolved {
			open = append(open, a)
		}
	}
	return open
}

// SetBatchExpiry rewrites a batch's expiry date.
func (s *Store) SetBatchExpiry(id string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.st.batches[id]; ok {
		b.ExpiryDate = expiry.UTC()
	}
}

func (s *Store) sortOldestFirst(n interface{}, id func(i int) string) {
	sort.SliceStable(n, func(i, j int) bool { return s.st.order[id(i)] < s.st.order[id(j)] })
}

func (s *Store) currentStock(itemID string) int {
	total := 0
	for _, b := range s.st.batches {
		if b.ItemID == itemID && b.DeletedAt == nil {
			total += b.QuantityAvailable
		}
	}
	return total
}

func (s *Store) itemView(item *repository.InventoryItem) *repository.InventoryItem {
	cp := copyItem(item)
	cp.CurrentStock = s.currentStock(item.ID)
	cp.CategoryName = nil
	if cp.CategoryID != nil {
		if c, ok := s.st.categories[*cp.CategoryID]; ok {
			name := c.Name
			cp.CategoryName = &name
		}
	}
	return cp
}

func (s *Store) batchView(b *repository.StockBatch) *repository.StockBatch {
	cp := copyBatch(b)
	if item, ok := s.st.items[b.ItemID]; ok {
		name := item.Name
		cp.ItemName = &name
	}
	return cp
}

func (s *Store) alertView(a *repository.StockAlert) *repository.StockAlert {
	cp := copyAlert(a)
	if item, ok := s.st.items[a.ItemID]; ok {
		name := item.Name
		cp.ItemName = &name
	}
	return cp
}

func page[T any](all []T, p, perPage int) []T {
	if perPage <= 0 {
		return all
	}
	start := (p - 1) * perPage
	if p < 1 || start >= len(all) {
		return []T{}
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func sortBatches(bs []*repository.StockBatch) {
	sort.SliceStable(bs, func(i, j int) bool {
		if !bs[i].ExpiryDate.Equal(bs[j].ExpiryDate) {
			return bs[i].ExpiryDate.Before(bs[j].ExpiryDate)
		}
		return bs[i].BatchNumber < bs[j].BatchNumber
	})
}

// items

type items struct{ s *Store }

func (r *items) Create(ctx context.Context, item *repository.InventoryItem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Items.Create", item.ID); err != nil {
		return err
	}
	if err := r.unique(item); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.st.items[item.ID] = copyItem(item)
	s.st.stamp(item.ID)
	return nil
}

func (r *items) unique(item *repository.InventoryItem) error {
	for _, other := range r.s.st.items {
		if other.ID == item.ID {
			continue
		}
		if other.SKU == item.SKU {
			return errors.Conflict("an item with this SKU already exists")
		}
		if item.Barcode != nil && other.Barcode != nil && *other.Barcode == *item.Barcode {
			return errors.Conflict("an item with this barcode already exists")
		}
	}
	return nil
}

func (r *items) Update(ctx context.Context, item *repository.InventoryItem) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.items[item.ID]; !ok {
		return errors.NotFound("item")
	}
	if err := r.unique(item); err != nil {
		return err
	}
	item.UpdatedAt = s.now()
	s.st.items[item.ID] = copyItem(item)
	return nil
}

func (r *items) SetActive(ctx context.Context, id string, active bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.st.items[id]
	if !ok {
		return errors.NotFound("item")
	}
	item.IsActive = active
	item.UpdatedAt = s.now()
	return nil
}

func (r *items) GetByID(ctx context.Context, id string) (*repository.InventoryItem, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Items.GetByID", id); err != nil {
		return nil, err
	}
	item, ok := s.st.items[id]
	if !ok {
		return nil, errors.NotFound("item")
	}
	return s.itemView(item), nil
}

func (r *items) LockByID(ctx context.Context, id string) (*repository.InventoryItem, error) {
	return r.GetByID(ctx, id)
}

func (r *items) GetByIDs(ctx context.Context, ids []string) ([]*repository.InventoryItem, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.InventoryItem
	for _, id := range ids {
		if item, ok := s.st.items[id]; ok {
			out = append(out, s.itemView(item))
		}
	}
	return out, nil
}

func (r *items) SKUTaken(ctx context.Context, sku, excludeID string) (bool, error) {
	return r.taken(func(i *repository.InventoryItem) bool { return i.SKU == sku }, excludeID), nil
}

func (r *items) BarcodeTaken(ctx context.Context, barcode, excludeID string) (bool, error) {
	return r.taken(func(i *repository.InventoryItem) bool { return i.Barcode != nil && *i.Barcode == barcode }, excludeID), nil
}

func (r *items) taken(match func(*repository.InventoryItem) bool, excludeID string) bool {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.st.items {
		if item.ID != excludeID && match(item) {
			return true
		}
	}
	return false
}

func (r *items) List(ctx context.Context, filter repository.ItemFilter) ([]*repository.InventoryItem, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(filter.Query)
	var matched []*repository.InventoryItem
	for _, item := range s.st.items {
		v := s.itemView(item)
		if !filter.IncludeInactive && !v.IsActive {
			continue
		}
		if filter.CategoryID != "" && (v.CategoryID == nil || *v.CategoryID != filter.CategoryID) {
			continue
		}
		if filter.LowStockOnly && v.CurrentStock > v.ReorderPoint {
			continue
		}
		if q != "" {
			hit := strings.Contains(strings.ToLower(v.Name), q) || strings.Contains(strings.ToLower(v.SKU), q)
			if v.Barcode != nil && strings.Contains(strings.ToLower(*v.Barcode), q) {
				hit = true
			}
			if !hit {
				continue
			}
		}
		matched = append(matched, v)
	}
	sortItems(matched)
	return page(matched, filter.Page, filter.PerPage), int64(len(matched)), nil
}

func (r *items) All(ctx context.Context, includeInactive bool) ([]*repository.InventoryItem, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Items.All", ""); err != nil {
		return nil, err
	}
	var out []*repository.InventoryItem
	for _, item := range s.st.items {
		if includeInactive || item.IsActive {
			out = append(out, s.itemView(item))
		}
	}
	sortItems(out)
	return out, nil
}

func sortItems(is []*repository.InventoryItem) {
	sort.SliceStable(is, func(i, j int) bool {
		if is[i].Name != is[j].Name {
			return is[i].Name < is[j].Name
		}
		return is[i].SKU < is[j].SKU
	})
}

// categories

type categories struct{ s *Store }

func (r *categories) Create(ctx context.Context, c *repository.Category) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.st.categories {
		if strings.EqualFold(other.Name, c.Name) {
			return errors.Conflict("a category with this name already exists")
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	s.st.categories[c.ID] = &cp
	s.st.stamp(c.ID)
	return nil
}

func (r *categories) GetByID(ctx context.Context, id string) (*repository.Category, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.categories[id]
	if !ok {
		return nil, errors.NotFound("category")
	}
	cp := *c
	return &cp, nil
}

func (r *categories) List(ctx context.Context) ([]*repository.Category, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.Category, 0, len(s.st.categories))
	for _, c := range s.st.categories {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// batches

type batches struct{ s *Store }

func (r *batches) Create(ctx context.Context, batch *repository.StockBatch) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Batches.Create", batch.ItemID); err != nil {
		return err
	}
	if _, ok := s.st.items[batch.ItemID]; !ok {
		return errors.NotFound("item")
	}
	for _, other := range s.st.batches {
		if other.ItemID == batch.ItemID && other.BatchNumber == batch.BatchNumber {
			return errors.Conflict("a batch with this number already exists for the item")
		}
	}
	if batch.QuantityAvailable < 0 {
		return errors.Validation(map[string]string{"quantity": "must not be negative"})
	}
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	batch.CreatedAt = s.now()
	batch.UpdatedAt = batch.CreatedAt
	s.st.batches[batch.ID] = copyBatch(batch)
	s.st.stamp(batch.ID)
	return nil
}

func (r *batches) GetByID(ctx context.Context, id string) (*repository.StockBatch, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.batches[id]
	if !ok || b.DeletedAt != nil {
		return nil, errors.NotFound("batch")
	}
	return s.batchView(b), nil
}

func (r *batches) LockByID(ctx context.Context, id string) (*repository.StockBatch, error) {
	return r.GetByID(ctx, id)
}

func (r *batches) LockAvailableByItem(ctx context.Context, itemID string) ([]*repository.StockBatch, error) {
	return r.ListByItem(ctx, itemID, false)
}

func (r *batches) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.batches[id]
	if !ok || b.DeletedAt != nil {
		return errors.NotFound("batch")
	}
	if err := s.check("Batches.UpdateQuantity", b.ItemID); err != nil {
		return err
	}
	if quantity < 0 {
		return errors.Validation(map[string]string{"quantity": "must not be negative"})
	}
	b.QuantityAvailable = quantity
	b.UpdatedAt = s.now()
	return nil
}

func (r *batches) NumberExists(ctx context.Context, itemID, batchNumber string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.st.batches {
		if b.ItemID == itemID && b.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r *batches) ListByItem(ctx context.Context, itemID string, includeEmpty bool) ([]*repository.StockBatch, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*repository.StockBatch{}
	for _, b := range s.st.batches {
		if b.ItemID != itemID || b.DeletedAt != nil {
			continue
		}
		if !includeEmpty && b.QuantityAvailable == 0 {
			continue
		}
		out = append(out, s.batchView(b))
	}
	sortBatches(out)
	return out, nil
}

func (r *batches) List(ctx context.Context, filter repository.BatchFilter) ([]*repository.StockBatch, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.StockBatch
	for _, b := range s.st.batches {
		if b.DeletedAt != nil {
			continue
		}
		if filter.ItemID != "" && b.ItemID != filter.ItemID {
			continue
		}
		if filter.Location != "" && b.Location != filter.Location {
			continue
		}
		if filter.ExpiresBefore != nil && b.ExpiryDate.After(*filter.ExpiresBefore) {
			continue
		}
		if !filter.IncludeEmpty && b.QuantityAvailable == 0 {
			continue
		}
		out = append(out, s.batchView(b))
	}
	sortBatches(out)
	return page(out, filter.Page, filter.PerPage), int64(len(out)), nil
}

func (r *batches) ListWithStock(ctx context.Context) ([]*repository.StockBatch, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Batches.ListWithStock", ""); err != nil {
		return nil, err
	}
	out := []*repository.StockBatch{}
	for _, b := range s.st.batches {
		if b.DeletedAt == nil && b.QuantityAvailable > 0 {
			out = append(out, s.batchView(b))
		}
	}
	sortBatches(out)
	return out, nil
}

func (r *batches) CurrentStock(ctx context.Context, itemID string) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentStock(itemID), nil
}

func (r *batches) StockTotals(ctx context.Context) (map[string]int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := map[string]int{}
	for _, b := range s.st.batches {
		if b.DeletedAt == nil {
			totals[b.ItemID] += b.QuantityAvailable
		}
	}
	return totals, nil
}

func (r *batches) CreateMovement(ctx context.Context, m *repository.StockMovement) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Batches.CreateMovement", m.ItemID); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = s.now()
	cp := *m
	s.st.movements = append(s.st.movements, &cp)
	return nil
}

func (r *batches) ListMovements(ctx context.Context, itemID string, p, perPage int) ([]*repository.StockMovement, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.StockMovement
	for i := len(s.st.movements) - 1; i >= 0; i-- {
		if m := s.st.movements[i]; m.ItemID == itemID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return page(out, p, perPage), int64(len(out)), nil
}

// orders

type orders struct{ s *Store }

func (r *orders) Create(ctx context.Context, po *repository.PurchaseOrder) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Orders.Create", ""); err != nil {
		return err
	}
	for _, other := range s.st.orders {
		if other.PONumber == po.PONumber {
			return errors.Conflict("a purchase order with this number already exists")
		}
	}
	if po.ID == "" {
		po.ID = uuid.New().String()
	}
	po.CreatedAt = s.now()
	po.UpdatedAt = po.CreatedAt
	for i, l := range po.Lines {
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.PurchaseOrderID = po.ID
		l.LineNumber = i + 1
	}
	s.st.orders[po.ID] = copyOrder(po)
	s.st.stamp(po.ID)
	return nil
}

func (r *orders) GetByID(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	po, ok := s.st.orders[id]
	if !ok {
		return nil, errors.NotFound("purchase order")
	}
	return r.view(po), nil
}

func (r *orders) view(po *repository.PurchaseOrder) *repository.PurchaseOrder {
	cp := copyOrder(po)
	for _, l := range cp.Lines {
		if item, ok := r.s.st.items[l.ItemID]; ok {
			name := item.Name
			l.ItemName = &name
		}
	}
	return cp
}

func (r *orders) LockByID(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	return r.GetByID(ctx, id)
}

func (r *orders) List(ctx context.Context, filter repository.OrderFilter) ([]*repository.PurchaseOrder, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.PurchaseOrder
	for _, po := range s.st.orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID != "" && po.SupplierID != filter.SupplierID {
			continue
		}
		out = append(out, r.view(po))
	}
	sort.SliceStable(out, func(i, j int) bool { return s.st.order[out[i].ID] > s.st.order[out[j].ID] })
	return page(out, filter.Page, filter.PerPage), int64(len(out)), nil
}

func (r *orders) ListPendingEmails(ctx context.Context) ([]*repository.PurchaseOrder, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.PurchaseOrder
	for _, po := range s.st.orders {
		if po.EmailRequestedAt != nil && !po.EmailSent && po.Status != domain.OrderCancelled {
			out = append(out, r.view(po))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EmailRequestedAt.Before(*out[j].EmailRequestedAt) })
	return out, nil
}

func (r *orders) Update(ctx context.Context, po *repository.PurchaseOrder) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Orders.Update", po.ID); err != nil {
		return err
	}
	stored, ok := s.st.orders[po.ID]
	if !ok {
		return errors.NotFound("purchase order")
	}
	if !po.Status.Valid() {
		return errors.Validation(map[string]string{"status": "unknown order status"})
	}
	stored.Status = po.Status
	stored.EmailSent = po.EmailSent
	stored.EmailRequestedAt = po.EmailRequestedAt
	stored.EmailSentAt = po.EmailSentAt
	stored.CancelledAt = po.CancelledAt
	stored.CancelReason = po.CancelReason
	stored.UpdatedAt = s.now()
	po.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *orders) UpdateLineReceived(ctx context.Context, lineID string, received int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, po := range s.st.orders {
		for _, l := range po.Lines {
			if l.ID != lineID {
				continue
			}
			if received > l.QuantityOrdered {
				return errors.OverReceipt("received quantity would exceed the ordered quantity")
			}
			l.ReceivedQuantity = received
			return nil
		}
	}
	return errors.NotFound("purchase order line")
}

func (r *orders) HasOpenLines(ctx context.Context, itemID string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, po := range s.st.orders {
		switch po.Status {
		case domain.OrderDraft, domain.OrderOrdered, domain.OrderPartiallyReceived:
		default:
			continue
		}
		for _, l := range po.Lines {
			if l.ItemID == itemID && l.ReceivedQuantity < l.QuantityOrdered {
				return true, nil
			}
		}
	}
	return false, nil
}

// receipts

type receipts struct{ s *Store }

func (r *receipts) Create(ctx context.Context, gr *repository.GoodsReceipt) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Receipts.Create", ""); err != nil {
		return err
	}
	for _, other := range s.st.receipts {
		if other.ReceiptNumber == gr.ReceiptNumber {
			return errors.Conflict("a goods receipt with this number already exists")
		}
	}
	if _, ok := s.st.orders[gr.PurchaseOrderID]; !ok {
		return errors.NotFound("purchase order")
	}
	if gr.ID == "" {
		gr.ID = uuid.New().String()
	}
	gr.CreatedAt = s.now()
	for _, l := range gr.Lines {
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.GoodsReceiptID = gr.ID
	}
	s.st.receipts[gr.ID] = copyReceipt(gr)
	s.st.stamp(gr.ID)
	return nil
}

func (r *receipts) GetByID(ctx context.Context, id string) (*repository.GoodsReceipt, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	gr, ok := s.st.receipts[id]
	if !ok {
		return nil, errors.NotFound("goods receipt")
	}
	return copyReceipt(gr), nil
}

func (r *receipts) List(ctx context.Context, filter repository.ReceiptFilter) ([]*repository.GoodsReceipt, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.GoodsReceipt
	for _, gr := range s.st.receipts {
		if filter.PurchaseOrderID == "" || gr.PurchaseOrderID == filter.PurchaseOrderID {
			out = append(out, copyReceipt(gr))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return s.st.order[out[i].ID] > s.st.order[out[j].ID] })
	return page(out, filter.Page, filter.PerPage), int64(len(out)), nil
}

func (r *receipts) ExistsForOrder(ctx context.Context, purchaseOrderID string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gr := range s.st.receipts {
		if gr.PurchaseOrderID == purchaseOrderID {
			return true, nil
		}
	}
	return false, nil
}

// alerts

type alerts struct{ s *Store }

func (r *alerts) EnsureOpen(ctx context.Context, alert *repository.StockAlert) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Alerts.EnsureOpen", alert.ItemID); err != nil {
		return false, err
	}
	for _, a := range s.st.alerts {
		if !a.IsResolved && a.Key() == alert.Key() {
			return false, nil
		}
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.CreatedAt = s.now()
	s.st.alerts[alert.ID] = copyAlert(alert)
	s.st.stamp(alert.ID)
	return true, nil
}

func (r *alerts) Resolve(ctx context.Context, key domain.AlertKey, at time.Time) (*repository.StockAlert, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Alerts.Resolve", key.ItemID); err != nil {
		return nil, err
	}
	for _, a := range s.st.alerts {
		if !a.IsResolved && a.Key() == key {
			a.IsResolved = true
			resolvedAt := at
			a.ResolvedAt = &resolvedAt
			return s.alertView(a), nil
		}
	}
	return nil, nil
}

func (r *alerts) ListOpen(ctx context.Context) ([]*repository.StockAlert, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.StockAlert
	for _, a := range s.st.alerts {
		if !a.IsResolved {
			out = append(out, s.alertView(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return s.st.order[out[i].ID] < s.st.order[out[j].ID] })
	return out, nil
}

func (r *alerts) List(ctx context.Context, filter repository.AlertFilter) ([]*repository.StockAlert, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.StockAlert
	for _, a := range s.st.alerts {
		if a.IsResolved {
			continue
		}
		if filter.Type != "" && a.AlertType != filter.Type {
			continue
		}
		if filter.IsRead != nil && a.IsRead != *filter.IsRead {
			continue
		}
		out = append(out, s.alertView(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return s.st.order[out[i].ID] > s.st.order[out[j].ID] })
	return page(out, filter.Page, filter.PerPage), int64(len(out)), nil
}

func (r *alerts) MarkRead(ctx context.Context, id, userID string, at time.Time) (*repository.StockAlert, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.alerts[id]
	if !ok {
		return nil, errors.NotFound("alert")
	}
	a.IsRead = true
	reader, readAt := userID, at
	a.ReadBy = &reader
	a.ReadAt = &readAt
	return s.alertView(a), nil
}

// tenants

type tenants struct{ s *Store }

func (r *tenants) ListActive(ctx context.Context) ([]*repository.Tenant, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Tenant
	for _, t := range s.st.tenants {
		if t.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func copyItem(i *repository.InventoryItem) *repository.InventoryItem {
	cp := *i
	return &cp
}

func copyBatch(b *repository.StockBatch) *repository.StockBatch {
	cp := *b
	return &cp
}

func copyAlert(a *repository.StockAlert) *repository.StockAlert {
	cp := *a
	return &cp
}

func copyOrder(o *repository.PurchaseOrder) *repository.PurchaseOrder {
	cp := *o
	cp.Lines = make([]*repository.PurchaseOrderLine, len(o.Lines))
	for i, l := range o.Lines {
		lc := *l
		cp.Lines[i] = &lc
	}
	return &cp
}

func copyReceipt(g *repository.GoodsReceipt) *repository.GoodsReceipt {
	cp := *g
	cp.Lines = make([]*repository.GoodsReceiptLine, len(g.Lines))
	for i, l := range g.Lines {
		lc := *l
		cp.Lines[i] = &lc
	}
	return &cp
}

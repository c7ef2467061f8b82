package service

import (
	"context"
	"strings"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/shopspring/decimal"
)

// CategoryInput creates a category.
type CategoryInput struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
}

// ItemInput creates or replaces the editable fields of an item.
type ItemInput struct {
	SKU                  string          `json:"sku" validate:"required,max=64"`
	Barcode              *string         `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Name                 string          `json:"name" validate:"required,max=255"`
	Description          *string         `json:"description,omitempty"`
	CategoryID           *string         `json:"category_id,omitempty" validate:"omitempty,uuid"`
	Unit                 string          `json:"unit" validate:"required,max=32"`
	PrescriptionRequired bool            `json:"prescription_required"`
	PurchasePrice        decimal.Decimal `json:"purchase_price"`
	SalePrice            decimal.Decimal `json:"sale_price"`
	MRP                  decimal.Decimal `json:"mrp"`
	MinimumStock         int             `json:"minimum_stock" validate:"gte=0"`
	ReorderPoint         int             `json:"reorder_point" validate:"gte=0"`
}

// ItemDetail is an item with the batches that hold its stock.
type ItemDetail struct {
	*repository.InventoryItem
	Batches []*repository.StockBatch `json:"batches"`
}

// CatalogService manages item definitions and categories.
type CatalogService struct {
	deps   Deps
	logger *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(deps Deps) *CatalogService {
	deps = deps.withDefaults()
	return &CatalogService{
		deps:   deps,
		logger: deps.Logger.WithComponent("catalog"),
	}
}

// CreateCategory creates a category; names are unique per tenant.
func (s *CatalogService) CreateCategory(ctx context.Context, in CategoryInput) (*repository.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.Validation(map[string]string{"name": "is required"})
	}

	c := &repository.Category{Name: name, Description: in.Description}
	if err := s.deps.Categories.Create(ctx, c); err != nil {
		return nil, err
	}
	invalidateReport(ctx, s.deps, s.logger)
	return c, nil
}

// ListCategories lists all categories.
func (s *CatalogService) ListCategories(ctx context.Context) ([]*repository.Category, error) {
	return s.deps.Categories.List(ctx)
}

// CreateItem validates and creates a catalog item.
func (s *CatalogService) CreateItem(ctx context.Context, in ItemInput) (*repository.InventoryItem, error) {
	item := &repository.InventoryItem{IsActive: true}
	applyItemInput(item, in)

	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		if err := s.validateItem(ctx, item); err != nil {
			return err
		}
		return s.deps.Items.Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	item.IsLowStock = domain.IsLowStock(item.CurrentStock, item.ReorderPoint)
	invalidateReport(ctx, s.deps, s.logger)
	s.logger.Info().Str("item_id", item.ID).Str("sku", item.SKU).Msg("item created")
	return item, nil
}

// UpdateItem replaces the editable fields of an item. Threshold changes take
// effect on the next alert evaluation.
func (s *CatalogService) UpdateItem(ctx context.Context, id string, in ItemInput) (*repository.InventoryItem, error) {
	var item *repository.InventoryItem

	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		existing, err := s.deps.Items.GetByID(ctx, id)
		if err != nil {
			return err
		}
		applyItemInput(existing, in)
		if err := s.validateItem(ctx, existing); err != nil {
			return err
		}
		if err := s.deps.Items.Update(ctx, existing); err != nil {
			return err
		}
		item = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	item.IsLowStock = domain.IsLowStock(item.CurrentStock, item.ReorderPoint)
	invalidateReport(ctx, s.deps, s.logger)
	return item, nil
}

// GetItem returns an item with its derived stock and the batches holding it.
func (s *CatalogService) GetItem(ctx context.Context, id string) (*ItemDetail, error) {
	item, err := s.deps.Items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	batches, err := s.deps.Batches.ListByItem(ctx, id, false)
	if err != nil {
		return nil, err
	}

	now := s.deps.Now()
	for _, b := range batches {
		annotateBatch(b, now, s.deps.Config.ExpiryWindowDays)
	}
	item.IsLowStock = domain.IsLowStock(item.CurrentStock, item.ReorderPoint)

	return &ItemDetail{InventoryItem: item, Batches: batches}, nil
}

// ListItems lists items matching filter with derived stock flags.
func (s *CatalogService) ListItems(ctx context.Context, filter repository.ItemFilter) ([]*repository.InventoryItem, int64, error) {
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)
	filter.Query = strings.TrimSpace(filter.Query)

	items, total, err := s.deps.Items.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for _, item := range items {
		item.IsLowStock = domain.IsLowStock(item.CurrentStock, item.ReorderPoint)
	}
	return items, total, nil
}

// DeactivateItem soft-deletes an item. Items still holding stock or expected
// by an open purchase order cannot be deactivated.
func (s *CatalogService) DeactivateItem(ctx context.Context, id string) (*repository.InventoryItem, error) {
	var item *repository.InventoryItem

	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		locked, err := s.deps.Items.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !locked.IsActive {
			item = locked
			return nil
		}

		stock, err := s.deps.Batches.CurrentStock(ctx, id)
		if err != nil {
			return err
		}
		if stock > 0 {
			return errors.Conflict("item still has stock in active batches")
		}

		open, err := s.deps.Orders.HasOpenLines(ctx, id)
		if err != nil {
			return err
		}
		if open {
			return errors.Conflict("item is referenced by an open purchase order")
		}

		if err := s.deps.Items.SetActive(ctx, id, false); err != nil {
			return err
		}
		locked.IsActive = false
		item = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateReport(ctx, s.deps, s.logger)
	s.logger.Info().Str("item_id", id).Msg("item deactivated")
	return item, nil
}

// ActivateItem re-enables a deactivated item.
func (s *CatalogService) ActivateItem(ctx context.Context, id string) (*repository.InventoryItem, error) {
	if err := s.deps.Items.SetActive(ctx, id, true); err != nil {
		return nil, err
	}
	invalidateReport(ctx, s.deps, s.logger)
	return s.deps.Items.GetByID(ctx, id)
}

func (s *CatalogService) validateItem(ctx context.Context, item *repository.InventoryItem) error {
	details := map[string]string{}
	if item.SKU == "" {
		details["sku"] = "is required"
	}
	if item.Name == "" {
		details["name"] = "is required"
	}
	if item.Unit == "" {
		details["unit"] = "is required"
	}
	for field, price := range map[string]decimal.Decimal{
		"purchase_price": item.PurchasePrice,
		"sale_price":     item.SalePrice,
		"mrp":            item.MRP,
	} {
		if price.IsNegative() {
			details[field] = "must not be negative"
		}
	}
	if item.MinimumStock < 0 {
		details["minimum_stock"] = "must not be negative"
	}
	if item.ReorderPoint < 0 {
		details["reorder_point"] = "must not be negative"
	}
	if item.CategoryID != nil {
		if _, err := s.deps.Categories.GetByID(ctx, *item.CategoryID); err != nil {
			if !errors.Is(err, errors.ErrNotFound) {
				return err
			}
			details["category_id"] = "category does not exist"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}

	taken, err := s.deps.Items.SKUTaken(ctx, item.SKU, item.ID)
	if err != nil {
		return err
	}
	if taken {
		return errors.Conflict("an item with this SKU already exists")
	}

	if item.Barcode != nil {
		taken, err := s.deps.Items.BarcodeTaken(ctx, *item.Barcode, item.ID)
		if err != nil {
			return err
		}
		if taken {
			return errors.Conflict("an item with this barcode already exists")
		}
	}
	return nil
}

func applyItemInput(item *repository.InventoryItem, in ItemInput) {
	item.SKU = strings.TrimSpace(in.SKU)
	item.Barcode = trimmedPtr(in.Barcode)
	item.Name = strings.TrimSpace(in.Name)
	item.Description = in.Description
	item.CategoryID = trimmedPtr(in.CategoryID)
	item.Unit = strings.TrimSpace(in.Unit)
	item.PrescriptionRequired = in.PrescriptionRequired
	item.PurchasePrice = in.PurchasePrice
	item.SalePrice = in.SalePrice
	item.MRP = in.MRP
	item.MinimumStock = in.MinimumStock
	item.ReorderPoint = in.ReorderPoint
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return strPtr(strings.TrimSpace(*s))
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// InventoryItem is a catalog entry. CurrentStock is derived from its batches.
type InventoryItem struct {
	ID                   string          `db:"id" json:"id"`
	SKU                  string          `db:"sku" json:"sku"`
	Barcode              *string         `db:"barcode" json:"barcode,omitempty"`
	Name                 string          `db:"name" json:"name"`
	Description          *string         `db:"description" json:"description,omitempty"`
	CategoryID           *string         `db:"category_id" json:"category_id,omitempty"`
	CategoryName         *string         `db:"category_name" json:"category_name,omitempty"`
	Unit                 string          `db:"unit" json:"unit"`
	PrescriptionRequired bool            `db:"prescription_required" json:"prescription_required"`
	PurchasePrice        decimal.Decimal `db:"purchase_price" json:"purchase_price"`
	SalePrice            decimal.Decimal `db:"sale_price" json:"sale_price"`
	MRP                  decimal.Decimal `db:"mrp" json:"mrp"`
	MinimumStock         int             `db:"minimum_stock" json:"minimum_stock"`
	ReorderPoint         int             `db:"reorder_point" json:"reorder_point"`
	IsActive             bool            `db:"is_active" json:"is_active"`
	CurrentStock         int             `db:"current_stock" json:"current_stock"`
	IsLowStock           bool            `db:"-" json:"is_low_stock"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// ItemFilter narrows catalog listings.
type ItemFilter struct {
	CategoryID      string
	LowStockOnly    bool
	Query           string
	IncludeInactive bool
	Page            int
	PerPage         int
}

const itemColumns = `
	i.id, i.sku, i.barcode, i.name, i.description, i.category_id, c.name AS category_name,
	i.unit, i.prescription_required, i.purchase_price, i.sale_price, i.mrp,
	i.minimum_stock, i.reorder_point, i.is_active, i.created_at, i.updated_at,
	COALESCE((
		SELECT SUM(b.quantity_available) FROM stock_batches b
		WHERE b.item_id = i.id AND b.deleted_at IS NULL
	), 0) AS current_stock`

const itemFrom = `
	FROM inventory_items i
	LEFT JOIN inventory_categories c ON c.id = i.category_id`

// ItemRepository handles catalog persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new item
func (r *ItemRepository) Create(ctx context.Context, item *InventoryItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_items (
			id, sku, barcode, name, description, category_id, unit, prescription_required,
			purchase_price, sale_price, mrp, minimum_stock, reorder_point, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, query,
			item.ID, item.SKU, item.Barcode, item.Name, item.Description, item.CategoryID,
			item.Unit, item.PrescriptionRequired, item.PurchasePrice, item.SalePrice, item.MRP,
			item.MinimumStock, item.ReorderPoint, item.IsActive,
		).Scan(&item.CreatedAt, &item.UpdatedAt)
		return database.Translate(err, "item")
	})
}

// Update writes the editable fields of an item
func (r *ItemRepository) Update(ctx context.Context, item *InventoryItem) error {
	query := `
		UPDATE inventory_items SET
			sku = $2, barcode = $3, name = $4, description = $5, category_id = $6, unit = $7,
			prescription_required = $8, purchase_price = $9, sale_price = $10, mrp = $11,
			minimum_stock = $12, reorder_point = $13, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, query,
			item.ID, item.SKU, item.Barcode, item.Name, item.Description, item.CategoryID,
			item.Unit, item.PrescriptionRequired, item.PurchasePrice, item.SalePrice, item.MRP,
			item.MinimumStock, item.ReorderPoint,
		).Scan(&item.UpdatedAt)
		return database.Translate(err, "item")
	})
}

// SetActive toggles the soft-deactivation flag
func (r *ItemRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE inventory_items SET is_active = $2, updated_at = now() WHERE id = $1`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		result, err := q.ExecContext(ctx, query, id, active)
		if err != nil {
			return database.Translate(err, "item")
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return errors.NotFound("item")
		}
		return nil
	})
}

// GetByID gets an item with its current stock
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*InventoryItem, error) {
	var item InventoryItem
	query := `SELECT ` + itemColumns + itemFrom + ` WHERE i.id = $1`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return database.Translate(q.GetContext(ctx, &item, query, id), "item")
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// LockByID gets an item and holds its row lock until the surrounding
// transaction ends. Stock consumption for one item is serialized on it.
func (r *ItemRepository) LockByID(ctx context.Context, id string) (*InventoryItem, error) {
	var item InventoryItem
	query := `
		SELECT i.id, i.sku, i.barcode, i.name, i.description, i.category_id, i.unit,
			i.prescription_required, i.purchase_price, i.sale_price, i.mrp,
			i.minimum_stock, i.reorder_point, i.is_active, i.created_at, i.updated_at
		FROM inventory_items i
		WHERE i.id = $1
		FOR UPDATE
	`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return database.Translate(q.GetContext(ctx, &item, query, id), "item")
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetByIDs gets the items with the given ids; unknown ids are omitted.
func (r *ItemRepository) GetByIDs(ctx context.Context, ids []string) ([]*InventoryItem, error) {
	items := []*InventoryItem{}
	if len(ids) == 0 {
		return items, nil
	}
	query := `SELECT ` + itemColumns + itemFrom + ` WHERE i.id = ANY($1::uuid[])`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &items, query, pq.Array(ids))
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SKUTaken reports whether another item already uses sku.
func (r *ItemRepository) SKUTaken(ctx context.Context, sku, excludeID string) (bool, error) {
	return r.taken(ctx, "sku", sku, excludeID)
}

// BarcodeTaken reports whether another item already uses barcode.
func (r *ItemRepository) BarcodeTaken(ctx context.Context, barcode, excludeID string) (bool, error) {
	return r.taken(ctx, "barcode", barcode, excludeID)
}

func (r *ItemRepository) taken(ctx context.Context, column, value, excludeID string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (
		SELECT 1 FROM inventory_items WHERE %s = $1 AND ($2 = '' OR id::text <> $2)
	)`, column)

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.GetContext(ctx, &exists, query, value, excludeID)
	})
	return exists, err
}

// List lists items matching filter, with the total match count
func (r *ItemRepository) List(ctx context.Context, filter ItemFilter) ([]*InventoryItem, int64, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeInactive {
		conds = append(conds, "i.is_active = true")
	}
	if filter.CategoryID != "" {
		conds = append(conds, "i.category_id = "+arg(filter.CategoryID))
	}
	if filter.Query != "" {
		p := arg("%" + filter.Query + "%")
		conds = append(conds, fmt.Sprintf("(i.name ILIKE %s OR i.sku ILIKE %s OR i.barcode ILIKE %s)", p, p, p))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	inner := `SELECT ` + itemColumns + itemFrom + where
	outer := `SELECT * FROM (` + inner + `) items`
	if filter.LowStockOnly {
		outer += ` WHERE current_stock <= reorder_point`
	}

	countQuery := `SELECT COUNT(*) FROM (` + outer + `) counted`
	listQuery := outer + fmt.Sprintf(" ORDER BY name, sku LIMIT %s OFFSET %s",
		arg(filter.PerPage), arg(offset(filter.Page, filter.PerPage)))

	var (
		items = []*InventoryItem{}
		total int64
	)
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.GetContext(ctx, &total, countQuery, args[:len(args)-2]...); err != nil {
			return err
		}
		return q.SelectContext(ctx, &items, listQuery, args...)
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// All returns every item with its current stock, ordered by name.
func (r *ItemRepository) All(ctx context.Context, includeInactive bool) ([]*InventoryItem, error) {
	items := []*InventoryItem{}
	query := `SELECT ` + itemColumns + itemFrom
	if !includeInactive {
		query += ` WHERE i.is_active = true`
	}
	query += ` ORDER BY i.name, i.sku`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &items, query)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func offset(page, perPage int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * perPage
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

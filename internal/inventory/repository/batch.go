package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockBatch is a dated lot of one item.
type StockBatch struct {
	ID                string             `db:"id" json:"id"`
	ItemID            string             `db:"item_id" json:"item_id"`
	ItemName          *string            `db:"item_name" json:"item_name,omitempty"`
	BatchNumber       string             `db:"batch_number" json:"batch_number"`
	QuantityAvailable int                `db:"quantity_available" json:"quantity_available"`
	InitialQuantity   int                `db:"initial_quantity" json:"initial_quantity"`
	Location          string             `db:"location" json:"location"`
	ExpiryDate        time.Time          `db:"expiry_date" json:"expiry_date"`
	ManufactureDate   *time.Time         `db:"manufacture_date" json:"manufacture_date,omitempty"`
	SupplierID        *string            `db:"supplier_id" json:"supplier_id,omitempty"`
	PurchasePrice     decimal.Decimal    `db:"purchase_price" json:"purchase_price"`
	ReceivedDate      time.Time          `db:"received_date" json:"received_date"`
	GoodsReceiptID    *string            `db:"goods_receipt_id" json:"goods_receipt_id,omitempty"`
	DeletedAt         *time.Time         `db:"deleted_at" json:"-"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
	ExpiryStatus      domain.ExpiryState `db:"-" json:"expiry_status,omitempty"`
	IsExpired         bool               `db:"-" json:"is_expired"`
}

// Lot returns the batch as seen by the FEFO allocator.
func (b *StockBatch) Lot() domain.Lot {
	return domain.Lot{
		BatchID:     b.ID,
		BatchNumber: b.BatchNumber,
		ExpiryDate:  b.ExpiryDate,
		Available:   b.QuantityAvailable,
	}
}

// StockMovement is one append-only ledger entry. Quantity is signed.
type StockMovement struct {
	ID            string              `db:"id" json:"id"`
	ItemID        string              `db:"item_id" json:"item_id"`
	BatchID       string              `db:"batch_id" json:"batch_id"`
	BatchNumber   string              `db:"batch_number" json:"batch_number"`
	MovementType  domain.MovementType `db:"movement_type" json:"movement_type"`
	Quantity      int                 `db:"quantity" json:"quantity"`
	QuantityAfter int                 `db:"quantity_after" json:"quantity_after"`
	Reference     *string             `db:"reference" json:"reference,omitempty"`
	Reason        *string             `db:"reason" json:"reason,omitempty"`
	PerformedBy   string              `db:"performed_by" json:"performed_by"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// BatchFilter narrows ledger listings.
type BatchFilter struct {
	ItemID        string
	Location      string
	ExpiresBefore *time.Time
	IncludeEmpty  bool
	Page          int
	PerPage       int
}

const batchColumns = `
	b.id, b.item_id, i.name AS item_name, b.batch_number, b.quantity_available,
	b.initial_quantity, b.location, b.expiry_date, b.manufacture_date, b.supplier_id,
	b.purchase_price, b.received_date, b.goods_receipt_id, b.deleted_at, b.created_at, b.updated_at`

const batchFrom = `
	FROM stock_batches b
	JOIN inventory_items i ON i.id = b.item_id`

// BatchRepository handles stock batch and movement persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch
func (r *BatchRepository) Create(ctx context.Context, batch *StockBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_batches (
			id, item_id, batch_number, quantity_available, initial_quantity, location,
			expiry_date, manufacture_date, supplier_id, purchase_price, received_date, goods_receipt_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, query,
			batch.ID, batch.ItemID, batch.BatchNumber, batch.QuantityAvailable, batch.InitialQuantity,
			batch.Location, batch.ExpiryDate, batch.ManufactureDate, batch.SupplierID,
			batch.PurchasePrice, batch.ReceivedDate, batch.GoodsReceiptID,
		).Scan(&batch.CreatedAt, &batch.UpdatedAt)
		return database.Translate(err, "batch")
	})
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*StockBatch, error) {
	return r.get(ctx, `SELECT `+batchColumns+batchFrom+` WHERE b.id = $1 AND b.deleted_at IS NULL`, id)
}

// LockByID gets a batch and holds its row lock until the transaction ends.
func (r *BatchRepository) LockByID(ctx context.Context, id string) (*StockBatch, error) {
	return r.get(ctx, `SELECT `+batchColumns+batchFrom+` WHERE b.id = $1 AND b.deleted_at IS NULL FOR UPDATE OF b`, id)
}

func (r *BatchRepository) get(ctx context.Context, query, id string) (*StockBatch, error) {
	var batch StockBatch
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return database.Translate(q.GetContext(ctx, &batch, query, id), "batch")
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// LockAvailableByItem locks every batch of an item that still holds stock,
// in FEFO order.
func (r *BatchRepository) LockAvailableByItem(ctx context.Context, itemID string) ([]*StockBatch, error) {
	batches := []*StockBatch{}
	query := `SELECT ` + batchColumns + batchFrom + `
		WHERE b.item_id = $1 AND b.deleted_at IS NULL AND b.quantity_available > 0
		ORDER BY b.expiry_date, b.batch_number
		FOR UPDATE OF b`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &batches, query, itemID)
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// UpdateQuantity sets the available quantity of a batch
func (r *BatchRepository) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	query := `UPDATE stock_batches SET quantity_available = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		result, err := q.ExecContext(ctx, query, id, quantity)
		if err != nil {
			return database.Translate(err, "batch")
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return errors.NotFound("batch")
		}
		return nil
	})
}

// NumberExists reports whether the item already has a batch with this number.
func (r *BatchRepository) NumberExists(ctx context.Context, itemID, batchNumber string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM stock_batches WHERE item_id = $1 AND batch_number = $2)`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.GetContext(ctx, &exists, query, itemID, batchNumber)
	})
	return exists, err
}

// ListByItem lists the batches of an item, earliest expiry first
func (r *BatchRepository) ListByItem(ctx context.Context, itemID string, includeEmpty bool) ([]*StockBatch, error) {
	batches := []*StockBatch{}
	query := `SELECT ` + batchColumns + batchFrom + ` WHERE b.item_id = $1 AND b.deleted_at IS NULL`
	if !includeEmpty {
		query += ` AND b.quantity_available > 0`
	}
	query += ` ORDER BY b.expiry_date, b.batch_number`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &batches, query, itemID)
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// List lists batches matching filter, with the total match count
func (r *BatchRepository) List(ctx context.Context, filter BatchFilter) ([]*StockBatch, int64, error) {
	conds := []string{"b.deleted_at IS NULL"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeEmpty {
		conds = append(conds, "b.quantity_available > 0")
	}
	if filter.ItemID != "" {
		conds = append(conds, "b.item_id = "+arg(filter.ItemID))
	}
	if filter.Location != "" {
		conds = append(conds, "b.location = "+arg(filter.Location))
	}
	if filter.ExpiresBefore != nil {
		conds = append(conds, "b.expiry_date <= "+arg(*filter.ExpiresBefore))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	countQuery := `SELECT COUNT(*)` + batchFrom + where
	listQuery := `SELECT ` + batchColumns + batchFrom + where +
		fmt.Sprintf(" ORDER BY b.expiry_date, b.batch_number LIMIT %s OFFSET %s",
			arg(filter.PerPage), arg(offset(filter.Page, filter.PerPage)))

	var (
		batches = []*StockBatch{}
		total   int64
	)
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.GetContext(ctx, &total, countQuery, args[:len(args)-2]...); err != nil {
			return err
		}
		return q.SelectContext(ctx, &batches, listQuery, args...)
	})
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// ListWithStock lists every batch that still holds stock. Alert evaluation,
// expiry queries and valuation all classify this same set.
func (r *BatchRepository) ListWithStock(ctx context.Context) ([]*StockBatch, error) {
	batches := []*StockBatch{}
	query := `SELECT ` + batchColumns + batchFrom + `
		WHERE b.deleted_at IS NULL AND b.quantity_available > 0
		ORDER BY b.expiry_date, b.batch_number`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &batches, query)
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// CurrentStock sums the available quantity of an item's batches
func (r *BatchRepository) CurrentStock(ctx context.Context, itemID string) (int, error) {
	var total int
	query := `
		SELECT COALESCE(SUM(quantity_available), 0) FROM stock_batches
		WHERE item_id = $1 AND deleted_at IS NULL
	`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.GetContext(ctx, &total, query, itemID)
	})
	return total, err
}

// StockTotals returns the current stock of every item that has batches.
func (r *BatchRepository) StockTotals(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		ItemID string `db:"item_id"`
		Total  int    `db:"total"`
	}
	query := `
		SELECT item_id, COALESCE(SUM(quantity_available), 0) AS total
		FROM stock_batches
		WHERE deleted_at IS NULL
		GROUP BY item_id
	`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &rows, query)
	})
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int, len(rows))
	for _, row := range rows {
		totals[row.ItemID] = row.Total
	}
	return totals, nil
}

// CreateMovement appends a ledger entry
func (r *BatchRepository) CreateMovement(ctx context.Context, m *StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (
			id, item_id, batch_id, movement_type, quantity, quantity_after, reference, reason, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, query,
			m.ID, m.ItemID, m.BatchID, m.MovementType, m.Quantity, m.QuantityAfter,
			m.Reference, m.Reason, m.PerformedBy,
		).Scan(&m.CreatedAt)
		return database.Translate(err, "movement")
	})
}

// ListMovements lists an item's ledger entries, newest first
func (r *BatchRepository) ListMovements(ctx context.Context, itemID string, page, perPage int) ([]*StockMovement, int64, error) {
	var (
		movements = []*StockMovement{}
		total     int64
	)
	countQuery := `SELECT COUNT(*) FROM stock_movements WHERE item_id = $1`
	listQuery := `
		SELECT m.id, m.item_id, m.batch_id, b.batch_number, m.movement_type, m.quantity,
			m.quantity_after, m.reference, m.reason, m.performed_by, m.created_at
		FROM stock_movements m
		JOIN stock_batches b ON b.id = m.batch_id
		WHERE m.item_id = $1
		ORDER BY m.created_at DESC, m.id
		LIMIT $2 OFFSET $3
	`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.GetContext(ctx, &total, countQuery, itemID); err != nil {
			return err
		}
		return q.SelectContext(ctx, &movements, listQuery, itemID, perPage, offset(page, perPage))
	})
	if err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

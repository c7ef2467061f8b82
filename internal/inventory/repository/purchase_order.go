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
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PurchaseOrder is an order to a supplier.
type PurchaseOrder struct {
	ID                   string               `db:"id" json:"id"`
	PONumber             string               `db:"po_number" json:"po_number"`
	SupplierID           string               `db:"supplier_id" json:"supplier_id"`
	OrderDate            time.Time            `db:"order_date" json:"order_date"`
	ExpectedDeliveryDate *time.Time           `db:"expected_delivery_date" json:"expected_delivery_date,omitempty"`
	Status               domain.OrderStatus   `db:"status" json:"status"`
	TotalAmount          decimal.Decimal      `db:"total_amount" json:"total_amount"`
	Notes                *string              `db:"notes" json:"notes,omitempty"`
	EmailSent            bool                 `db:"email_sent" json:"email_sent"`
	EmailRequestedAt     *time.Time           `db:"email_requested_at" json:"email_requested_at,omitempty"`
	EmailSentAt          *time.Time           `db:"email_sent_at" json:"email_sent_at,omitempty"`
	CancelledAt          *time.Time           `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason         *string              `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedBy            string               `db:"created_by" json:"created_by"`
	CreatedAt            time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time            `db:"updated_at" json:"updated_at"`
	Lines                []*PurchaseOrderLine `db:"-" json:"lines"`
}

// Progress returns the per-line received quantities for status derivation.
func (o *PurchaseOrder) Progress() []domain.LineProgress {
	progress := make([]domain.LineProgress, len(o.Lines))
	for i, l := range o.Lines {
		progress[i] = domain.LineProgress{Ordered: l.QuantityOrdered, Received: l.ReceivedQuantity}
	}
	return progress
}

// PurchaseOrderLine is one item on an order.
type PurchaseOrderLine struct {
	ID               string          `db:"id" json:"id"`
	PurchaseOrderID  string          `db:"purchase_order_id" json:"purchase_order_id"`
	LineNumber       int             `db:"line_number" json:"line_number"`
	ItemID           string          `db:"item_id" json:"item_id"`
	ItemName         *string         `db:"item_name" json:"item_name,omitempty"`
	QuantityOrdered  int             `db:"quantity_ordered" json:"quantity_ordered"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal        decimal.Decimal `db:"line_total" json:"line_total"`
	ReceivedQuantity int             `db:"received_quantity" json:"received_quantity"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status     domain.OrderStatus
	SupplierID string
	Page       int
	PerPage    int
}

const orderColumns = `
	id, po_number, supplier_id, order_date, expected_delivery_date, status, total_amount,
	notes, email_sent, email_requested_at, email_sent_at, cancelled_at, cancel_reason,
	created_by, created_at, updated_at`

const lineColumns = `
	l.id, l.purchase_order_id, l.line_number, l.item_id, i.name AS item_name,
	l.quantity_ordered, l.unit_price, l.line_total, l.received_quantity`

// PurchaseOrderRepository handles purchase order persistence
type PurchaseOrderRepository struct {
	db *database.DB
}

// NewPurchaseOrderRepository creates a new purchase order repository
func NewPurchaseOrderRepository(db *database.DB) *PurchaseOrderRepository {
	return &PurchaseOrderRepository{db: db}
}

// Create inserts an order and its lines
func (r *PurchaseOrderRepository) Create(ctx context.Context, po *PurchaseOrder) error {
	if po.ID == "" {
		po.ID = uuid.New().String()
	}

	orderQuery := `
		INSERT INTO purchase_orders (
			id, po_number, supplier_id, order_date, expected_delivery_date, status,
			total_amount, notes, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	lineQuery := `
		INSERT INTO purchase_order_lines (
			id, purchase_order_id, line_number, item_id, quantity_ordered, unit_price,
			line_total, received_quantity
		) VALUES (:id, :purchase_order_id, :line_number, :item_id, :quantity_ordered,
			:unit_price, :line_total, :received_quantity)
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, orderQuery,
			po.ID, po.PONumber, po.SupplierID, po.OrderDate, po.ExpectedDeliveryDate, po.Status,
			po.TotalAmount, po.Notes, po.CreatedBy,
		).Scan(&po.CreatedAt, &po.UpdatedAt)
		if err != nil {
			return database.Translate(err, "purchase order")
		}

		for i, line := range po.Lines {
			if line.ID == "" {
				line.ID = uuid.New().String()
			}
			line.PurchaseOrderID = po.ID
			line.LineNumber = i + 1
			if _, err := q.NamedExecContext(ctx, lineQuery, line); err != nil {
				return database.Translate(err, "purchase order line")
			}
		}
		return nil
	})
}

// GetByID gets an order with its lines
func (r *PurchaseOrderRepository) GetByID(ctx context.Context, id string) (*PurchaseOrder, error) {
	return r.get(ctx, id, false)
}

// LockByID gets an order with its lines, holding row locks on the order and
// every line until the transaction ends. Receipts against one order are
// serialized on these locks.
func (r *PurchaseOrderRepository) LockByID(ctx context.Context, id string) (*PurchaseOrder, error) {
	return r.get(ctx, id, true)
}

func (r *PurchaseOrderRepository) get(ctx context.Context, id string, lock bool) (*PurchaseOrder, error) {
	orderQuery := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE id = $1`
	lineQuery := `SELECT ` + lineColumns + `
		FROM purchase_order_lines l
		JOIN inventory_items i ON i.id = l.item_id
		WHERE l.purchase_order_id = $1
		ORDER BY l.line_number`
	if lock {
		orderQuery += ` FOR UPDATE`
		lineQuery += ` FOR UPDATE OF l`
	}

	var po PurchaseOrder
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.GetContext(ctx, &po, orderQuery, id); err != nil {
			return database.Translate(err, "purchase order")
		}
		po.Lines = []*PurchaseOrderLine{}
		return q.SelectContext(ctx, &po.Lines, lineQuery, id)
	})
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// List lists orders matching filter, newest first, with their lines
func (r *PurchaseOrderRepository) List(ctx context.Context, filter OrderFilter) ([]*PurchaseOrder, int64, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conds = append(conds, "status = "+arg(filter.Status))
	}
	if filter.SupplierID != "" {
		conds = append(conds, "supplier_id = "+arg(filter.SupplierID))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM purchase_orders` + where
	listQuery := `SELECT ` + orderColumns + ` FROM purchase_orders` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, po_number LIMIT %s OFFSET %s",
			arg(filter.PerPage), arg(offset(filter.Page, filter.PerPage)))

	var (
		orders = []*PurchaseOrder{}
		total  int64
	)
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.GetContext(ctx, &total, countQuery, args[:len(args)-2]...); err != nil {
			return err
		}
		if err := q.SelectContext(ctx, &orders, listQuery, args...); err != nil {
			return err
		}
		return r.attachLines(ctx, q, orders)
	})
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListPendingEmails lists orders whose supplier email was requested but not
// confirmed sent.
func (r *PurchaseOrderRepository) ListPendingEmails(ctx context.Context) ([]*PurchaseOrder, error) {
	orders := []*PurchaseOrder{}
	query := `SELECT ` + orderColumns + ` FROM purchase_orders
		WHERE email_requested_at IS NOT NULL AND email_sent = false AND status <> 'cancelled'
		ORDER BY email_requested_at`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.SelectContext(ctx, &orders, query); err != nil {
			return err
		}
		return r.attachLines(ctx, q, orders)
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *PurchaseOrderRepository) attachLines(ctx context.Context, q database.Queryer, orders []*PurchaseOrder) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*PurchaseOrder, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		o.Lines = []*PurchaseOrderLine{}
		byID[o.ID] = o
	}

	var lines []*PurchaseOrderLine
	query := `SELECT ` + lineColumns + `
		FROM purchase_order_lines l
		JOIN inventory_items i ON i.id = l.item_id
		WHERE l.purchase_order_id = ANY($1::uuid[])
		ORDER BY l.purchase_order_id, l.line_number`
	if err := q.SelectContext(ctx, &lines, query, pq.Array(ids)); err != nil {
		return err
	}
	for _, l := range lines {
		if o, ok := byID[l.PurchaseOrderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return nil
}

// Update writes the lifecycle fields of an order
func (r *PurchaseOrderRepository) Update(ctx context.Context, po *PurchaseOrder) error {
	query := `
		UPDATE purchase_orders SET
			status = $2, email_sent = $3, email_requested_at = $4, email_sent_at = $5,
			cancelled_at = $6, cancel_reason = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, query,
			po.ID, po.Status, po.EmailSent, po.EmailRequestedAt, po.EmailSentAt,
			po.CancelledAt, po.CancelReason,
		).Scan(&po.UpdatedAt)
		return database.Translate(err, "purchase order")
	})
}

// UpdateLineReceived sets the received quantity of an order line
func (r *PurchaseOrderRepository) UpdateLineReceived(ctx context.Context, lineID string, received int) error {
	query := `UPDATE purchase_order_lines SET received_quantity = $2 WHERE id = $1`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		result, err := q.ExecContext(ctx, query, lineID, received)
		if err != nil {
			return database.Translate(err, "purchase order line")
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return errors.NotFound("purchase order line")
		}
		return nil
	})
}

// HasOpenLines reports whether an open order still expects the item.
func (r *PurchaseOrderRepository) HasOpenLines(ctx context.Context, itemID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM purchase_order_lines l
			JOIN purchase_orders o ON o.id = l.purchase_order_id
			WHERE l.item_id = $1
				AND o.status IN ('draft', 'ordered', 'partially_received')
				AND l.received_quantity < l.quantity_ordered
		)
	`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.GetContext(ctx, &exists, query, itemID)
	})
	return exists, err
}

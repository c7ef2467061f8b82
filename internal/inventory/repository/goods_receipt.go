package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// GoodsReceipt records one delivery against a purchase order. Receipts are
// immutable once written.
type GoodsReceipt struct {
	ID              string              `db:"id" json:"id"`
	ReceiptNumber   string              `db:"receipt_number" json:"receipt_number"`
	PurchaseOrderID string              `db:"purchase_order_id" json:"purchase_order_id"`
	ReceivedDate    time.Time           `db:"received_date" json:"received_date"`
	ReceivedBy      string              `db:"received_by" json:"received_by"`
	Location        *string             `db:"location" json:"location,omitempty"`
	Notes           *string             `db:"notes" json:"notes,omitempty"`
	TotalAmount     decimal.Decimal     `db:"total_amount" json:"total_amount"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	Lines           []*GoodsReceiptLine `db:"-" json:"lines"`
}

// GoodsReceiptLine is one received batch.
type GoodsReceiptLine struct {
	ID                  string          `db:"id" json:"id"`
	GoodsReceiptID      string          `db:"goods_receipt_id" json:"goods_receipt_id"`
	PurchaseOrderLineID string          `db:"purchase_order_line_id" json:"purchase_order_line_id"`
	ItemID              string          `db:"item_id" json:"item_id"`
	BatchID             string          `db:"batch_id" json:"batch_id"`
	BatchNumber         string          `db:"batch_number" json:"batch_number"`
	QuantityReceived    int             `db:"quantity_received" json:"quantity_received"`
	ExpiryDate          time.Time       `db:"expiry_date" json:"expiry_date"`
	ManufactureDate     *time.Time      `db:"manufacture_date" json:"manufacture_date,omitempty"`
	UnitPrice           decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal           decimal.Decimal `db:"line_total" json:"line_total"`
}

// ReceiptFilter narrows receipt listings.
type ReceiptFilter struct {
	PurchaseOrderID string
	Page            int
	PerPage         int
}

const receiptColumns = `
	id, receipt_number, purchase_order_id, received_date, received_by, location, notes,
	total_amount, created_at`

const receiptLineColumns = `
	id, goods_receipt_id, purchase_order_line_id, item_id, batch_id, batch_number,
	quantity_received, expiry_date, manufacture_date, unit_price, line_total`

// GoodsReceiptRepository handles goods receipt persistence
type GoodsReceiptRepository struct {
	db *database.DB
}

// NewGoodsReceiptRepository creates a new goods receipt repository
func NewGoodsReceiptRepository(db *database.DB) *GoodsReceiptRepository {
	return &GoodsReceiptRepository{db: db}
}

// Create inserts a receipt and its lines
func (r *GoodsReceiptRepository) Create(ctx context.Context, gr *GoodsReceipt) error {
	if gr.ID == "" {
		gr.ID = uuid.New().String()
	}

	receiptQuery := `
		INSERT INTO goods_receipts (
			id, receipt_number, purchase_order_id, received_date, received_by, location, notes, total_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	lineQuery := `
		INSERT INTO goods_receipt_lines (` + receiptLineColumns + `)
		VALUES (:id, :goods_receipt_id, :purchase_order_line_id, :item_id, :batch_id, :batch_number,
			:quantity_received, :expiry_date, :manufacture_date, :unit_price, :line_total)
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, receiptQuery,
			gr.ID, gr.ReceiptNumber, gr.PurchaseOrderID, gr.ReceivedDate, gr.ReceivedBy,
			gr.Location, gr.Notes, gr.TotalAmount,
		).Scan(&gr.CreatedAt)
		if err != nil {
			return database.Translate(err, "goods receipt")
		}

		for _, line := range gr.Lines {
			if line.ID == "" {
				line.ID = uuid.New().String()
			}
			line.GoodsReceiptID = gr.ID
			if _, err := q.NamedExecContext(ctx, lineQuery, line); err != nil {
				return database.Translate(err, "goods receipt line")
			}
		}
		return nil
	})
}

// GetByID gets a receipt with its lines
func (r *GoodsReceiptRepository) GetByID(ctx context.Context, id string) (*GoodsReceipt, error) {
	var gr GoodsReceipt
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		query := `SELECT ` + receiptColumns + ` FROM goods_receipts WHERE id = $1`
		if err := q.GetContext(ctx, &gr, query, id); err != nil {
			return database.Translate(err, "goods receipt")
		}
		return r.attachLines(ctx, q, []*GoodsReceipt{&gr})
	})
	if err != nil {
		return nil, err
	}
	return &gr, nil
}

// List lists receipts matching filter, newest first, with their lines
func (r *GoodsReceiptRepository) List(ctx context.Context, filter ReceiptFilter) ([]*GoodsReceipt, int64, error) {
	var (
		where string
		args  []interface{}
	)
	if filter.PurchaseOrderID != "" {
		args = append(args, filter.PurchaseOrderID)
		where = " WHERE purchase_order_id = $1"
	}

	countQuery := `SELECT COUNT(*) FROM goods_receipts` + where
	listQuery := `SELECT ` + receiptColumns + ` FROM goods_receipts` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, receipt_number LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	var (
		receipts = []*GoodsReceipt{}
		total    int64
	)
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.GetContext(ctx, &total, countQuery, args...); err != nil {
			return err
		}
		listArgs := append(args, filter.PerPage, offset(filter.Page, filter.PerPage))
		if err := q.SelectContext(ctx, &receipts, listQuery, listArgs...); err != nil {
			return err
		}
		return r.attachLines(ctx, q, receipts)
	})
	if err != nil {
		return nil, 0, err
	}
	return receipts, total, nil
}

// ExistsForOrder reports whether any receipt references the order.
func (r *GoodsReceiptRepository) ExistsForOrder(ctx context.Context, purchaseOrderID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM goods_receipts WHERE purchase_order_id = $1)`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.GetContext(ctx, &exists, query, purchaseOrderID)
	})
	return exists, err
}

func (r *GoodsReceiptRepository) attachLines(ctx context.Context, q database.Queryer, receipts []*GoodsReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	ids := make([]string, len(receipts))
	byID := make(map[string]*GoodsReceipt, len(receipts))
	for i, gr := range receipts {
		ids[i] = gr.ID
		gr.Lines = []*GoodsReceiptLine{}
		byID[gr.ID] = gr
	}

	var lines []*GoodsReceiptLine
	query := `SELECT ` + receiptLineColumns + ` FROM goods_receipt_lines
		WHERE goods_receipt_id = ANY($1::uuid[])
		ORDER BY goods_receipt_id, batch_number`
	if err := q.SelectContext(ctx, &lines, query, pq.Array(ids)); err != nil {
		return err
	}
	for _, l := range lines {
		if gr, ok := byID[l.GoodsReceiptID]; ok {
			gr.Lines = append(gr.Lines, l)
		}
	}
	return nil
}

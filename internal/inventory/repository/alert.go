package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/google/uuid"
)

// StockAlert is a low-stock or expiry condition raised by alert evaluation.
type StockAlert struct {
	ID          string           `db:"id" json:"id"`
	AlertType   domain.AlertType `db:"alert_type" json:"alert_type"`
	ItemID      string           `db:"item_id" json:"item_id"`
	ItemName    *string          `db:"item_name" json:"item_name,omitempty"`
	BatchID     *string          `db:"batch_id" json:"batch_id,omitempty"`
	BatchNumber string           `db:"batch_number" json:"batch_number,omitempty"`
	Severity    string           `db:"severity" json:"severity"`
	Message     string           `db:"message" json:"message"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	ReadBy      *string          `db:"read_by" json:"read_by,omitempty"`
	ReadAt      *time.Time       `db:"read_at" json:"read_at,omitempty"`
	IsResolved  bool             `db:"is_resolved" json:"is_resolved"`
	ResolvedAt  *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// Key returns the identity the alert is deduplicated on.
func (a *StockAlert) Key() domain.AlertKey {
	return domain.AlertKey{Type: a.AlertType, ItemID: a.ItemID, BatchNumber: a.BatchNumber}
}

// AlertFilter narrows alert listings. Resolved alerts are never listed.
type AlertFilter struct {
	Type        domain.AlertType
	// IsRead filters on the read flag when set
	IsRead  *bool
	Page        int
	PerPage     int
}

const alertColumns = `
	a.id, a.alert_type, a.item_id, i.name AS item_name, a.batch_id, a.batch_number,
	a.severity, a.message, a.is_read, a.read_by, a.read_at, a.is_resolved, a.resolved_at, a.created_at`

const alertFrom = `
	FROM stock_alerts a
	JOIN inventory_items i ON i.id = a.item_id`

// AlertRepository handles stock alert persistence
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// EnsureOpen inserts alert unless an unresolved alert with the same key
// exists. It reports whether a row was created.
func (r *AlertRepository) EnsureOpen(ctx context.Context, alert *StockAlert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_alerts (id, alert_type, item_id, batch_id, batch_number, severity, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, alert_type, item_id, batch_number) WHERE is_resolved = false
		DO NOTHING
		RETURNING created_at
	`

	var created bool
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, query,
			alert.ID, alert.AlertType, alert.ItemID, alert.BatchID, alert.BatchNumber,
			alert.Severity, alert.Message,
		).Scan(&alert.CreatedAt)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return database.Translate(err, "alert")
		}
		created = true
		return nil
	})
	return created, err
}

// Resolve closes the unresolved alert with key, returning it, or nil when
// none was open.
func (r *AlertRepository) Resolve(ctx context.Context, key domain.AlertKey, at time.Time) (*StockAlert, error) {
	query := `
		UPDATE stock_alerts SET is_resolved = true, resolved_at = $4
		WHERE alert_type = $1 AND item_id = $2 AND batch_number = $3 AND is_resolved = false
		RETURNING id, alert_type, item_id, batch_id, batch_number, severity, message,
			is_read, read_by, read_at, is_resolved, resolved_at, created_at
	`

	var resolved *StockAlert
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		var alert StockAlert
		err := q.GetContext(ctx, &alert, query, key.Type, key.ItemID, key.BatchNumber, at)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		resolved = &alert
		return nil
	})
	return resolved, err
}

// ListOpen returns every unresolved alert.
func (r *AlertRepository) ListOpen(ctx context.Context) ([]*StockAlert, error) {
	alerts := []*StockAlert{}
	query := `SELECT ` + alertColumns + alertFrom + ` WHERE a.is_resolved = false ORDER BY a.created_at`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &alerts, query)
	})
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// List lists unresolved alerts matching filter, newest first
func (r *AlertRepository) List(ctx context.Context, filter AlertFilter) ([]*StockAlert, int64, error) {
	conds := []string{"a.is_resolved = false"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Type != "" {
		conds = append(conds, "a.alert_type = "+arg(filter.Type))
	}
	if filter.IsRead != nil {
		conds = append(conds, "a.is_read = "+arg(*filter.IsRead))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	countQuery := `SELECT COUNT(*) FROM stock_alerts a` + where
	listQuery := `SELECT ` + alertColumns + alertFrom + where +
		fmt.Sprintf(" ORDER BY a.created_at DESC, a.id LIMIT %s OFFSET %s",
			arg(filter.PerPage), arg(offset(filter.Page, filter.PerPage)))

	var (
		alerts = []*StockAlert{}
		total  int64
	)
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		if err := q.GetContext(ctx, &total, countQuery, args[:len(args)-2]...); err != nil {
			return err
		}
		return q.SelectContext(ctx, &alerts, listQuery, args...)
	})
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// MarkRead flags an alert as read by userID
func (r *AlertRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) (*StockAlert, error) {
	query := `
		UPDATE stock_alerts SET is_read = true, read_by = $2, read_at = $3
		WHERE id = $1
		RETURNING id, alert_type, item_id, batch_id, batch_number, severity, message,
			is_read, read_by, read_at, is_resolved, resolved_at, created_at
	`

	var alert StockAlert
	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return database.Translate(q.GetContext(ctx, &alert, query, id, userID, at), "alert")
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

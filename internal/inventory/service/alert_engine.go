package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/pkg/actor"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
)

// EvaluationResult summarizes one alert evaluation pass.
type EvaluationResult struct {
	Created     int       `json:"created"`
	Resolved    int       `json:"resolved"`
	Failed      int       `json:"failed"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// AlertEngine raises and resolves low-stock and expiry alerts. Evaluation is
// idempotent: open alerts are unique per (type, item, batch number).
type AlertEngine struct {
	deps   Deps
	logger *logger.Logger
}

// NewAlertEngine creates a new alert engine
func NewAlertEngine(deps Deps) *AlertEngine {
	deps = deps.withDefaults()
	return &AlertEngine{
		deps:   deps,
		logger: deps.Logger.WithComponent("alert_engine"),
	}
}

// Evaluate scans the catalog and ledger of the tenant in ctx. A failure on
// one item or batch is logged and counted; the scan continues.
func (e *AlertEngine) Evaluate(ctx context.Context) (*EvaluationResult, error) {
	snap, err := loadSnapshot(ctx, e.deps)
	if err != nil {
		return nil, err
	}
	result := &EvaluationResult{EvaluatedAt: snap.now}

	for _, item := range snap.activeItems() {
		if err := e.evaluateItem(ctx, item, result); err != nil {
			result.Failed++
			e.logger.Error().Err(err).Str("item_id", item.ID).Msg("low stock evaluation failed")
		}
	}

	for _, b := range snap.stockedBatches() {
		if err := e.evaluateBatch(ctx, snap, b, result); err != nil {
			result.Failed++
			e.logger.Error().Err(err).
				Str("item_id", b.ItemID).
				Str("batch_id", b.ID).
				Msg("expiry evaluation failed")
		}
	}

	if err := e.sweep(ctx, snap, result); err != nil {
		result.Failed++
		e.logger.Error().Err(err).Msg("stale alert sweep failed")
	}

	e.logger.Debug().
		Int("created", result.Created).
		Int("resolved", result.Resolved).
		Int("failed", result.Failed).
		Msg("alert evaluation finished")
	return result, nil
}

func (e *AlertEngine) evaluateItem(ctx context.Context, item *repository.InventoryItem, result *EvaluationResult) error {
	key := domain.AlertKey{Type: domain.AlertLowStock, ItemID: item.ID}
	if !item.IsLowStock {
		return e.resolve(ctx, key, result)
	}

	name := item.Name
	return e.ensure(ctx, &repository.StockAlert{
		AlertType: domain.AlertLowStock,
		ItemID:    item.ID,
		ItemName:  &name,
		Message: fmt.Sprintf("%s is low on stock: %d %s left, reorder point %d",
			item.Name, item.CurrentStock, item.Unit, item.ReorderPoint),
	}, result)
}

func (e *AlertEngine) evaluateBatch(ctx context.Context, snap *stockSnapshot, b *repository.StockBatch, result *EvaluationResult) error {
	want, raise := domain.ExpiryAlertType(snap.expiry(b))

	for _, t := range []domain.AlertType{domain.AlertExpired, domain.AlertExpiringSoon} {
		key := domain.AlertKey{Type: t, ItemID: b.ItemID, BatchNumber: b.BatchNumber}
		if raise && t == want {
			continue
		}
		if err := e.resolve(ctx, key, result); err != nil {
			return err
		}
	}
	if !raise {
		return nil
	}

	itemName := snap.items[b.ItemID].Name
	expiry := b.ExpiryDate.Format("2006-01-02")
	message := fmt.Sprintf("batch %s of %s expires on %s (%d left)", b.BatchNumber, itemName, expiry, b.QuantityAvailable)
	if want == domain.AlertExpired {
		message = fmt.Sprintf("batch %s of %s expired on %s (%d left)", b.BatchNumber, itemName, expiry, b.QuantityAvailable)
	}

	batchID := b.ID
	return e.ensure(ctx, &repository.StockAlert{
		AlertType:   want,
		ItemID:      b.ItemID,
		ItemName:    &itemName,
		BatchID:     &batchID,
		BatchNumber: b.BatchNumber,
		Message:     message,
	}, result)
}

// sweep resolves open alerts whose subject is gone: the item was deactivated
// or the batch no longer holds stock.
func (e *AlertEngine) sweep(ctx context.Context, snap *stockSnapshot, result *EvaluationResult) error {
	open, err := e.deps.Alerts.ListOpen(ctx)
	if err != nil {
		return err
	}

	for _, a := range open {
		stale := !snap.isActive(a.ItemID)
		if !stale && a.AlertType != domain.AlertLowStock {
			stale = !snap.hasBatch(a.ItemID, a.BatchNumber)
		}
		if !stale {
			continue
		}
		if err := e.resolve(ctx, a.Key(), result); err != nil {
			result.Failed++
			e.logger.Error().Err(err).Str("alert_id", a.ID).Str("item_id", a.ItemID).Msg("failed to resolve stale alert")
		}
	}
	return nil
}

func (e *AlertEngine) ensure(ctx context.Context, alert *repository.StockAlert, result *EvaluationResult) error {
	alert.Severity = alert.AlertType.Severity()
	created, err := e.deps.Alerts.EnsureOpen(ctx, alert)
	if err != nil {
		return err
	}
	if created {
		result.Created++
		e.logger.Info().
			Str("alert_type", string(alert.AlertType)).
			Str("item_id", alert.ItemID).
			Str("batch_number", alert.BatchNumber).
			Msg("alert raised")
		e.deps.Events.AlertGenerated(ctx, alert)
	}
	return nil
}

func (e *AlertEngine) resolve(ctx context.Context, key domain.AlertKey, result *EvaluationResult) error {
	resolved, err := e.deps.Alerts.Resolve(ctx, key, e.deps.Now())
	if err != nil {
		return err
	}
	if resolved != nil {
		result.Resolved++
		e.deps.Events.AlertResolved(ctx, resolved)
	}
	return nil
}

// ListAlerts lists unresolved alerts, newest first.
func (e *AlertEngine) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]*repository.StockAlert, int64, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, errors.Validation(map[string]string{"type": "unknown alert type"})
	}
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)
	return e.deps.Alerts.List(ctx, filter)
}

// MarkRead flags an alert as read by the acting user. It does not resolve it.
func (e *AlertEngine) MarkRead(ctx context.Context, id string) (*repository.StockAlert, error) {
	return e.deps.Alerts.MarkRead(ctx, id, actor.IDFromContext(ctx), e.deps.Now())
}

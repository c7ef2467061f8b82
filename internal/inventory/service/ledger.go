package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/pkg/actor"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/shopspring/decimal"
)

// ReceiptInput records a new batch.
type ReceiptInput struct {
	ItemID          string           `json:"-"`
	BatchNumber     string           `json:"batch_number" validate:"required,max=64"`
	Quantity        int              `json:"quantity" validate:"gt=0"`
	ExpiryDate      time.Time        `json:"expiry_date" validate:"required"`
	ManufactureDate *time.Time       `json:"manufacture_date,omitempty"`
	SupplierID      *string          `json:"supplier_id,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	Location        string           `json:"location,omitempty" validate:"max=100"`
	ReceivedDate    *time.Time       `json:"received_date,omitempty"`
	Reference       string           `json:"reference,omitempty" validate:"max=100"`
	GoodsReceiptID  *string          `json:"-"`
}

// ConsumeInput draws stock from an item.
type ConsumeInput struct {
	ItemID    string `json:"-"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	Reference string `json:"reference,omitempty" validate:"max=100"`
	Reason    string `json:"reason,omitempty" validate:"max=500"`
}

// ConsumeResult reports which batches a consumption drew from.
type ConsumeResult struct {
	ItemID         string              `json:"item_id"`
	Quantity       int                 `json:"quantity"`
	Reference      string              `json:"reference,omitempty"`
	Allocations    []domain.Allocation `json:"allocations"`
	RemainingStock int                 `json:"remaining_stock"`
}

// AdjustInput corrects the quantity of one batch.
type AdjustInput struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// BatchQuery narrows ledger listings.
type BatchQuery struct {
	ItemID             string
	Location           string
	ExpiringWithinDays *int
	IncludeEmpty       bool
	Page               int
	PerPage            int
}

// LedgerService is the source of truth for physical stock.
type LedgerService struct {
	deps   Deps
	logger *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(deps Deps) *LedgerService {
	deps = deps.withDefaults()
	return &LedgerService{
		deps:   deps,
		logger: deps.Logger.WithComponent("ledger"),
	}
}

// RecordReceipt creates a batch and its receipt movement. Batches already past
// expiry are accepted and flagged unless the reject policy is enabled.
func (s *LedgerService) RecordReceipt(ctx context.Context, in ReceiptInput) (*repository.StockBatch, error) {
	in.BatchNumber = strings.TrimSpace(in.BatchNumber)
	now := s.deps.Now()

	details := map[string]string{}
	if in.Quantity <= 0 {
		details["quantity"] = "must be greater than 0"
	}
	if in.BatchNumber == "" {
		details["batch_number"] = "is required"
	}
	if in.ExpiryDate.IsZero() {
		details["expiry_date"] = "is required"
	} else if s.deps.Config.RejectExpiredReceipts && domain.IsExpired(in.ExpiryDate, now) {
		details["expiry_date"] = "is in the past"
	}
	if in.ManufactureDate != nil && !in.ExpiryDate.IsZero() && in.ManufactureDate.After(in.ExpiryDate) {
		details["manufacture_date"] = "must not be after expiry_date"
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		details["unit_price"] = "must not be negative"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	var batch *repository.StockBatch
	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		item, err := s.deps.Items.GetByID(ctx, in.ItemID)
		if err != nil {
			return err
		}
		if !item.IsActive {
			return errors.Conflict("item is inactive")
		}

		exists, err := s.deps.Batches.NumberExists(ctx, in.ItemID, in.BatchNumber)
		if err != nil {
			return err
		}
		if exists {
			return errors.Conflict("a batch with this number already exists for the item")
		}

		price := item.PurchasePrice
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		location := strings.TrimSpace(in.Location)
		if location == "" {
			location = s.deps.Config.DefaultLocation
		}
		received := domain.Day(now)
		if in.ReceivedDate != nil {
			received = domain.Day(*in.ReceivedDate)
		}

		batch = &repository.StockBatch{
			ItemID:            in.ItemID,
			ItemName:          &item.Name,
			BatchNumber:       in.BatchNumber,
			QuantityAvailable: in.Quantity,
			InitialQuantity:   in.Quantity,
			Location:          location,
			ExpiryDate:        in.ExpiryDate.UTC(),
			ManufactureDate:   dayPtr(in.ManufactureDate),
			SupplierID:        in.SupplierID,
			PurchasePrice:     price,
			ReceivedDate:      received,
			GoodsReceiptID:    in.GoodsReceiptID,
		}
		if err := s.deps.Batches.Create(ctx, batch); err != nil {
			return err
		}

		return s.deps.Batches.CreateMovement(ctx, &repository.StockMovement{
			ItemID:        in.ItemID,
			BatchID:       batch.ID,
			BatchNumber:   batch.BatchNumber,
			MovementType:  domain.MovementReceipt,
			Quantity:      in.Quantity,
			QuantityAfter: in.Quantity,
			Reference:     strPtr(in.Reference),
			PerformedBy:   actor.IDFromContext(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	annotateBatch(batch, now, s.deps.Config.ExpiryWindowDays)
	if batch.IsExpired {
		s.logger.Warn().
			Str("item_id", batch.ItemID).
			Str("batch_id", batch.ID).
			Time("expiry_date", batch.ExpiryDate).
			Msg("received batch is already expired")
	}
	invalidateReport(ctx, s.deps, s.logger)
	return batch, nil
}

// Consume draws quantity from an item's unexpired batches in FEFO order.
// Consumption is all-or-nothing and serialized per item.
func (s *LedgerService) Consume(ctx context.Context, in ConsumeInput) (*ConsumeResult, error) {
	if in.Quantity <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than 0"})
	}

	now := s.deps.Now()
	result := &ConsumeResult{ItemID: in.ItemID, Quantity: in.Quantity, Reference: in.Reference}

	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		if _, err := s.deps.Items.LockByID(ctx, in.ItemID); err != nil {
			return err
		}

		batches, err := s.deps.Batches.LockAvailableByItem(ctx, in.ItemID)
		if err != nil {
			return err
		}

		var (
			lots  []domain.Lot
			total int
			byID  = make(map[string]*repository.StockBatch, len(batches))
		)
		for _, b := range batches {
			total += b.QuantityAvailable
			if domain.IsExpired(b.ExpiryDate, now) {
				continue
			}
			lots = append(lots, b.Lot())
			byID[b.ID] = b
		}

		allocations, err := domain.AllocateFEFO(lots, in.Quantity)
		if err != nil {
			var shortage *domain.ShortageError
			if errors.As(err, &shortage) {
				return errors.InsufficientStock(shortage.Requested, shortage.Available, total)
			}
			return err
		}

		performedBy := actor.IDFromContext(ctx)
		for _, a := range allocations {
			if err := s.deps.Batches.UpdateQuantity(ctx, a.BatchID, a.Remaining); err != nil {
				return err
			}
			if err := s.deps.Batches.CreateMovement(ctx, &repository.StockMovement{
				ItemID:        in.ItemID,
				BatchID:       a.BatchID,
				BatchNumber:   byID[a.BatchID].BatchNumber,
				MovementType:  domain.MovementConsumption,
				Quantity:      -a.Quantity,
				QuantityAfter: a.Remaining,
				Reference:     strPtr(in.Reference),
				Reason:        strPtr(in.Reason),
				PerformedBy:   performedBy,
			}); err != nil {
				return err
			}
		}

		result.Allocations = allocations
		result.RemainingStock = total - in.Quantity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("item_id", in.ItemID).
		Int("quantity", in.Quantity).
		Int("batches", len(result.Allocations)).
		Msg("stock consumed")
	s.deps.Events.StockConsumed(ctx, result)
	invalidateReport(ctx, s.deps, s.logger)
	return result, nil
}

// Adjust applies an explicit signed correction to one batch.
func (s *LedgerService) Adjust(ctx context.Context, batchID string, in AdjustInput) (*repository.StockBatch, error) {
	details := map[string]string{}
	if in.Delta == 0 {
		details["delta"] = "must not be zero"
	}
	if strings.TrimSpace(in.Reason) == "" {
		details["reason"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	var (
		batch    *repository.StockBatch
		movement *repository.StockMovement
	)
	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		locked, err := s.deps.Batches.LockByID(ctx, batchID)
		if err != nil {
			return err
		}

		next := locked.QuantityAvailable + in.Delta
		if next < 0 {
			return errors.Validation(map[string]string{
				"delta": fmt.Sprintf("would leave %d in batch %s", next, locked.BatchNumber),
			})
		}
		if err := s.deps.Batches.UpdateQuantity(ctx, batchID, next); err != nil {
			return err
		}

		movement = &repository.StockMovement{
			ItemID:        locked.ItemID,
			BatchID:       locked.ID,
			BatchNumber:   locked.BatchNumber,
			MovementType:  domain.MovementAdjustment,
			Quantity:      in.Delta,
			QuantityAfter: next,
			Reason:        strPtr(strings.TrimSpace(in.Reason)),
			PerformedBy:   actor.IDFromContext(ctx),
		}
		if err := s.deps.Batches.CreateMovement(ctx, movement); err != nil {
			return err
		}

		locked.QuantityAvailable = next
		batch = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	annotateBatch(batch, s.deps.Now(), s.deps.Config.ExpiryWindowDays)
	s.deps.Events.StockAdjusted(ctx, movement)
	invalidateReport(ctx, s.deps, s.logger)
	return batch, nil
}

// CurrentStock returns the summed available quantity of an item's batches.
func (s *LedgerService) CurrentStock(ctx context.Context, itemID string) (int, error) {
	if _, err := s.deps.Items.GetByID(ctx, itemID); err != nil {
		return 0, err
	}
	return s.deps.Batches.CurrentStock(ctx, itemID)
}

// StockTotals returns the current stock of every item with batches.
func (s *LedgerService) StockTotals(ctx context.Context) (map[string]int, error) {
	return s.deps.Batches.StockTotals(ctx)
}

// ItemBatches lists the batches of an item.
func (s *LedgerService) ItemBatches(ctx context.Context, itemID string, includeEmpty bool) ([]*repository.StockBatch, error) {
	if _, err := s.deps.Items.GetByID(ctx, itemID); err != nil {
		return nil, err
	}
	batches, err := s.deps.Batches.ListByItem(ctx, itemID, includeEmpty)
	if err != nil {
		return nil, err
	}
	now := s.deps.Now()
	for _, b := range batches {
		annotateBatch(b, now, s.deps.Config.ExpiryWindowDays)
	}
	return batches, nil
}

// ListBatches lists ledger batches with their expiry classification.
func (s *LedgerService) ListBatches(ctx context.Context, q BatchQuery) ([]*repository.StockBatch, int64, error) {
	now := s.deps.Now()
	filter := repository.BatchFilter{
		ItemID:       q.ItemID,
		Location:     q.Location,
		IncludeEmpty: q.IncludeEmpty,
	}
	filter.Page, filter.PerPage = normalizePage(q.Page, q.PerPage)
	if q.ExpiringWithinDays != nil {
		if *q.ExpiringWithinDays < 0 {
			return nil, 0, errors.Validation(map[string]string{"expiring_within_days": "must not be negative"})
		}
		cutoff := now.AddDate(0, 0, *q.ExpiringWithinDays)
		filter.ExpiresBefore = &cutoff
	}

	batches, total, err := s.deps.Batches.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for _, b := range batches {
		annotateBatch(b, now, s.deps.Config.ExpiryWindowDays)
	}
	return batches, total, nil
}

// ExpiringWithin lists stocked batches that are not expired but expire within
// days of now.
func (s *LedgerService) ExpiringWithin(ctx context.Context, days int) ([]*repository.StockBatch, error) {
	return s.classified(ctx, days, domain.ExpiryExpiringSoon)
}

// Expired lists stocked batches past their expiry date.
func (s *LedgerService) Expired(ctx context.Context) ([]*repository.StockBatch, error) {
	return s.classified(ctx, s.deps.Config.ExpiryWindowDays, domain.ExpiryExpired)
}

func (s *LedgerService) classified(ctx context.Context, days int, want domain.ExpiryState) ([]*repository.StockBatch, error) {
	batches, err := s.deps.Batches.ListWithStock(ctx)
	if err != nil {
		return nil, err
	}

	now := s.deps.Now()
	matched := []*repository.StockBatch{}
	for _, b := range batches {
		if domain.ClassifyExpiry(b.ExpiryDate, now, days) == want {
			annotateBatch(b, now, s.deps.Config.ExpiryWindowDays)
			matched = append(matched, b)
		}
	}
	return matched, nil
}

// ListMovements lists an item's ledger entries, newest first.
func (s *LedgerService) ListMovements(ctx context.Context, itemID string, page, perPage int) ([]*repository.StockMovement, int64, error) {
	if _, err := s.deps.Items.GetByID(ctx, itemID); err != nil {
		return nil, 0, err
	}
	page, perPage = normalizePage(page, perPage)
	return s.deps.Batches.ListMovements(ctx, itemID, page, perPage)
}

func annotateBatch(b *repository.StockBatch, now time.Time, windowDays int) {
	b.ExpiryStatus = domain.ClassifyExpiry(b.ExpiryDate, now, windowDays)
	b.IsExpired = b.ExpiryStatus == domain.ExpiryExpired
}

func dayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := domain.Day(*t)
	return &d
}

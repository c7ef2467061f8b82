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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiptLineInput is one delivered batch. The order line is named directly
// or found by item when the item appears on exactly one line.
type ReceiptLineInput struct {
	PurchaseOrderLineID string           `json:"purchase_order_line_id,omitempty" validate:"omitempty,uuid"`
	ItemID              string           `json:"item_id,omitempty" validate:"required_without=PurchaseOrderLineID,omitempty,uuid"`
	QuantityReceived    int              `json:"quantity_received" validate:"gt=0"`
	BatchNumber         string           `json:"batch_number" validate:"required,max=64"`
	ExpiryDate          time.Time        `json:"expiry_date" validate:"required"`
	ManufactureDate     *time.Time       `json:"manufacture_date,omitempty"`
	UnitPrice           *decimal.Decimal `json:"unit_price,omitempty"`
	Location            string           `json:"location,omitempty" validate:"max=100"`
}

// PostReceiptInput records a delivery against a purchase order.
type PostReceiptInput struct {
	ReceiptNumber   string             `json:"receipt_number,omitempty" validate:"max=64"`
	PurchaseOrderID string             `json:"purchase_order_id" validate:"required,uuid"`
	ReceivedDate    *time.Time         `json:"received_date,omitempty"`
	Location        string             `json:"location,omitempty" validate:"max=100"`
	Notes           *string            `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Lines           []ReceiptLineInput `json:"lines" validate:"required,min=1,dive"`
}

// GoodsReceiptService reconciles deliveries against purchase orders.
type GoodsReceiptService struct {
	deps   Deps
	ledger *LedgerService
	logger *logger.Logger
}

// NewGoodsReceiptService creates a new goods receipt service
func NewGoodsReceiptService(deps Deps, ledger *LedgerService) *GoodsReceiptService {
	deps = deps.withDefaults()
	return &GoodsReceiptService{
		deps:   deps,
		ledger: ledger,
		logger: deps.Logger.WithComponent("goods_receipts"),
	}
}

// Post applies a receipt atomically: the order and its lines are locked,
// every line is checked against its remaining quantity, one batch is created
// per receipt line, line quantities and order status are updated, and the
// immutable receipt is stored. Any failure leaves nothing behind.
func (s *GoodsReceiptService) Post(ctx context.Context, in PostReceiptInput) (*repository.GoodsReceipt, error) {
	if err := validateReceiptShape(in); err != nil {
		return nil, err
	}

	now := s.deps.Now()
	number := strings.TrimSpace(in.ReceiptNumber)
	if number == "" {
		number = domain.DocumentNumber(domain.GoodsReceiptPrefix, now)
	}
	receivedDate := domain.Day(now)
	if in.ReceivedDate != nil {
		receivedDate = domain.Day(*in.ReceivedDate)
	}

	receipt := &repository.GoodsReceipt{
		ID:              uuid.New().String(),
		ReceiptNumber:   number,
		PurchaseOrderID: in.PurchaseOrderID,
		ReceivedDate:    receivedDate,
		ReceivedBy:      actor.IDFromContext(ctx),
		Location:        strPtr(strings.TrimSpace(in.Location)),
		Notes:           in.Notes,
		TotalAmount:     decimal.Zero,
	}

	var order *repository.PurchaseOrder
	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		po, err := s.deps.Orders.LockByID(ctx, in.PurchaseOrderID)
		if err != nil {
			return err
		}
		if !po.Status.IsReceivable() {
			return errors.InvalidState(fmt.Sprintf("cannot receive goods against a %s order", po.Status))
		}

		matched, err := matchReceiptLines(po, in.Lines)
		if err != nil {
			return err
		}

		for i, line := range in.Lines {
			orderLine := matched[i]

			price := orderLine.UnitPrice
			if line.UnitPrice != nil {
				price = *line.UnitPrice
			}
			location := strings.TrimSpace(line.Location)
			if location == "" {
				location = strings.TrimSpace(in.Location)
			}

			batch, err := s.ledger.RecordReceipt(ctx, ReceiptInput{
				ItemID:          orderLine.ItemID,
				BatchNumber:     line.BatchNumber,
				Quantity:        line.QuantityReceived,
				ExpiryDate:      line.ExpiryDate,
				ManufactureDate: line.ManufactureDate,
				SupplierID:      &po.SupplierID,
				UnitPrice:       &price,
				Location:        location,
				ReceivedDate:    &receivedDate,
				Reference:       number,
				GoodsReceiptID:  &receipt.ID,
			})
			if err != nil {
				return lineError(i, err)
			}

			lineTotal := price.Mul(decimal.NewFromInt(int64(line.QuantityReceived)))
			receipt.Lines = append(receipt.Lines, &repository.GoodsReceiptLine{
				PurchaseOrderLineID: orderLine.ID,
				ItemID:              orderLine.ItemID,
				BatchID:             batch.ID,
				BatchNumber:         batch.BatchNumber,
				QuantityReceived:    line.QuantityReceived,
				ExpiryDate:          batch.ExpiryDate,
				ManufactureDate:     batch.ManufactureDate,
				UnitPrice:           price,
				LineTotal:           lineTotal,
			})
			receipt.TotalAmount = receipt.TotalAmount.Add(lineTotal)
			orderLine.ReceivedQuantity += line.QuantityReceived
		}

		for _, l := range touchedLines(matched) {
			if err := s.deps.Orders.UpdateLineReceived(ctx, l.ID, l.ReceivedQuantity); err != nil {
				return err
			}
		}

		next := domain.DeriveOrderStatus(po.Progress())
		if next != po.Status {
			if !po.Status.CanTransitionTo(next) {
				return errors.InvalidState(fmt.Sprintf("cannot move order from %s to %s", po.Status, next))
			}
			po.Status = next
		}
		if err := s.deps.Orders.Update(ctx, po); err != nil {
			return err
		}

		if err := s.deps.Receipts.Create(ctx, receipt); err != nil {
			return err
		}
		order = po
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("goods_receipt_id", receipt.ID).
		Str("receipt_number", receipt.ReceiptNumber).
		Str("purchase_order_id", order.ID).
		Str("order_status", string(order.Status)).
		Int("lines", len(receipt.Lines)).
		Msg("goods receipt posted")

	s.deps.Events.GoodsReceived(ctx, receipt, order)
	invalidateReport(ctx, s.deps, s.logger)
	return receipt, nil
}

// Get returns a receipt with its lines.
func (s *GoodsReceiptService) Get(ctx context.Context, id string) (*repository.GoodsReceipt, error) {
	return s.deps.Receipts.GetByID(ctx, id)
}

// List lists receipts, newest first.
func (s *GoodsReceiptService) List(ctx context.Context, filter repository.ReceiptFilter) ([]*repository.GoodsReceipt, int64, error) {
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)
	return s.deps.Receipts.List(ctx, filter)
}

func validateReceiptShape(in PostReceiptInput) error {
	details := map[string]string{}
	if in.PurchaseOrderID == "" {
		details["purchase_order_id"] = "is required"
	}
	if len(in.Lines) == 0 {
		details["lines"] = "at least one line is required"
	}
	for i, l := range in.Lines {
		if l.PurchaseOrderLineID == "" && l.ItemID == "" {
			details[fmt.Sprintf("lines[%d].item_id", i)] = "item_id or purchase_order_line_id is required"
		}
		if l.QuantityReceived <= 0 {
			details[fmt.Sprintf("lines[%d].quantity_received", i)] = "must be greater than 0"
		}
		if strings.TrimSpace(l.BatchNumber) == "" {
			details[fmt.Sprintf("lines[%d].batch_number", i)] = "is required"
		}
		if l.ExpiryDate.IsZero() {
			details[fmt.Sprintf("lines[%d].expiry_date", i)] = "is required"
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// matchReceiptLines resolves each receipt line to its order line and rejects
// the receipt when any order line would be received beyond its ordered
// quantity.
func matchReceiptLines(po *repository.PurchaseOrder, lines []ReceiptLineInput) ([]*repository.PurchaseOrderLine, error) {
	byID := make(map[string]*repository.PurchaseOrderLine, len(po.Lines))
	byItem := make(map[string][]*repository.PurchaseOrderLine)
	for _, l := range po.Lines {
		byID[l.ID] = l
		byItem[l.ItemID] = append(byItem[l.ItemID], l)
	}

	matched := make([]*repository.PurchaseOrderLine, len(lines))
	incoming := make(map[string]int)
	batches := make(map[string]bool)
	details := map[string]string{}

	for i, in := range lines {
		var line *repository.PurchaseOrderLine
		switch {
		case in.PurchaseOrderLineID != "":
			line = byID[in.PurchaseOrderLineID]
			if line == nil {
				details[fmt.Sprintf("lines[%d].purchase_order_line_id", i)] = "line does not belong to this order"
				continue
			}
			if in.ItemID != "" && in.ItemID != line.ItemID {
				details[fmt.Sprintf("lines[%d].item_id", i)] = "does not match the order line"
				continue
			}
		default:
			candidates := byItem[in.ItemID]
			switch len(candidates) {
			case 0:
				details[fmt.Sprintf("lines[%d].item_id", i)] = "item is not on this order"
				continue
			case 1:
				line = candidates[0]
			default:
				details[fmt.Sprintf("lines[%d].purchase_order_line_id", i)] = "item appears on several lines, purchase_order_line_id is required"
				continue
			}
		}

		key := line.ItemID + "/" + strings.TrimSpace(in.BatchNumber)
		if batches[key] {
			details[fmt.Sprintf("lines[%d].batch_number", i)] = "duplicate batch number for the item in this receipt"
			continue
		}
		batches[key] = true

		matched[i] = line
		incoming[line.ID] += in.QuantityReceived
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	for _, line := range po.Lines {
		in := incoming[line.ID]
		if in == 0 {
			continue
		}
		if line.ReceivedQuantity+in > line.QuantityOrdered {
			return nil, errors.OverReceipt(fmt.Sprintf(
				"line %d would receive %d of %d ordered (%d already received)",
				line.LineNumber, line.ReceivedQuantity+in, line.QuantityOrdered, line.ReceivedQuantity,
			)).WithDetails(map[string]string{
				"purchase_order_line_id": line.ID,
				"item_id":                line.ItemID,
				"ordered":                fmt.Sprint(line.QuantityOrdered),
				"already_received":       fmt.Sprint(line.ReceivedQuantity),
				"incoming":               fmt.Sprint(in),
			})
		}
	}
	return matched, nil
}

func touchedLines(matched []*repository.PurchaseOrderLine) []*repository.PurchaseOrderLine {
	seen := make(map[string]bool, len(matched))
	var lines []*repository.PurchaseOrderLine
	for _, l := range matched {
		if !seen[l.ID] {
			seen[l.ID] = true
			lines = append(lines, l)
		}
	}
	return lines
}

func lineError(i int, err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Details != nil && errors.Is(err, errors.ErrValidation) {
		details := make(map[string]string, len(appErr.Details))
		for field, msg := range appErr.Details {
			details[fmt.Sprintf("lines[%d].%s", i, field)] = msg
		}
		return errors.Validation(details)
	}
	return err
}

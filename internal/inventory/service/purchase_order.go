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

// OrderLineInput is one requested item on a new order.
type OrderLineInput struct {
	ItemID          string          `json:"item_id" validate:"required,uuid"`
	QuantityOrdered int             `json:"quantity_ordered" validate:"gt=0"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

// CreateOrderInput creates a purchase order. Orders start as drafts unless
// Submit is set.
type CreateOrderInput struct {
	PONumber             string           `json:"po_number,omitempty" validate:"max=64"`
	SupplierID           string           `json:"supplier_id" validate:"required,max=64"`
	OrderDate            *time.Time       `json:"order_date,omitempty"`
	ExpectedDeliveryDate *time.Time       `json:"expected_delivery_date,omitempty"`
	Notes                *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Submit               bool             `json:"submit"`
	Lines                []OrderLineInput `json:"lines" validate:"required,min=1,dive"`
}

// CancelOrderInput cancels a purchase order.
type CancelOrderInput struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// PurchaseOrderService owns the purchase order lifecycle up to delivery.
type PurchaseOrderService struct {
	deps   Deps
	logger *logger.Logger
}

// NewPurchaseOrderService creates a new purchase order service
func NewPurchaseOrderService(deps Deps) *PurchaseOrderService {
	deps = deps.withDefaults()
	return &PurchaseOrderService{
		deps:   deps,
		logger: deps.Logger.WithComponent("purchase_orders"),
	}
}

// Create validates and stores a new order, computing line and order totals.
func (s *PurchaseOrderService) Create(ctx context.Context, in CreateOrderInput) (*repository.PurchaseOrder, error) {
	now := s.deps.Now()

	details := map[string]string{}
	if strings.TrimSpace(in.SupplierID) == "" {
		details["supplier_id"] = "is required"
	}
	if len(in.Lines) == 0 {
		details["lines"] = "at least one line is required"
	}
	for i, l := range in.Lines {
		if l.ItemID == "" {
			details[fmt.Sprintf("lines[%d].item_id", i)] = "is required"
		}
		if l.QuantityOrdered <= 0 {
			details[fmt.Sprintf("lines[%d].quantity_ordered", i)] = "must be greater than 0"
		}
		if l.UnitPrice.IsNegative() {
			details[fmt.Sprintf("lines[%d].unit_price", i)] = "must not be negative"
		}
	}
	orderDate := domain.Day(now)
	if in.OrderDate != nil {
		orderDate = domain.Day(*in.OrderDate)
	}
	if in.ExpectedDeliveryDate != nil && domain.Day(*in.ExpectedDeliveryDate).Before(orderDate) {
		details["expected_delivery_date"] = "must not be before order_date"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	status := domain.OrderDraft
	if in.Submit {
		status = domain.OrderOrdered
	}
	number := strings.TrimSpace(in.PONumber)
	if number == "" {
		number = domain.DocumentNumber(domain.PurchaseOrderPrefix, now)
	}

	po := &repository.PurchaseOrder{
		PONumber:             number,
		SupplierID:           strings.TrimSpace(in.SupplierID),
		OrderDate:            orderDate,
		ExpectedDeliveryDate: dayPtr(in.ExpectedDeliveryDate),
		Status:               status,
		TotalAmount:          decimal.Zero,
		Notes:                in.Notes,
		CreatedBy:            actor.IDFromContext(ctx),
	}
	for _, l := range in.Lines {
		total := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.QuantityOrdered)))
		po.Lines = append(po.Lines, &repository.PurchaseOrderLine{
			ItemID:          l.ItemID,
			QuantityOrdered: l.QuantityOrdered,
			UnitPrice:       l.UnitPrice,
			LineTotal:       total,
		})
		po.TotalAmount = po.TotalAmount.Add(total)
	}

	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		if err := s.checkItems(ctx, in.Lines, po); err != nil {
			return err
		}
		return s.deps.Orders.Create(ctx, po)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("purchase_order_id", po.ID).
		Str("po_number", po.PONumber).
		Str("status", string(po.Status)).
		Str("total_amount", po.TotalAmount.StringFixed(2)).
		Msg("purchase order created")
	return po, nil
}

func (s *PurchaseOrderService) checkItems(ctx context.Context, lines []OrderLineInput, po *repository.PurchaseOrder) error {
	ids := make([]string, 0, len(lines))
	seen := map[string]bool{}
	for _, l := range lines {
		if !seen[l.ItemID] {
			seen[l.ItemID] = true
			ids = append(ids, l.ItemID)
		}
	}

	items, err := s.deps.Items.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]*repository.InventoryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	details := map[string]string{}
	for i, l := range lines {
		item, ok := byID[l.ItemID]
		switch {
		case !ok:
			details[fmt.Sprintf("lines[%d].item_id", i)] = "item does not exist"
		case !item.IsActive:
			details[fmt.Sprintf("lines[%d].item_id", i)] = "item is inactive"
		default:
			name := item.Name
			po.Lines[i].ItemName = &name
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Submit moves a draft order to ordered.
func (s *PurchaseOrderService) Submit(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	return s.transition(ctx, id, func(po *repository.PurchaseOrder) error {
		if !po.Status.CanTransitionTo(domain.OrderOrdered) {
			return errors.InvalidState(fmt.Sprintf("cannot submit a %s order", po.Status))
		}
		po.Status = domain.OrderOrdered
		return nil
	})
}

// Cancel cancels a draft or ordered purchase order that has no receipts.
func (s *PurchaseOrderService) Cancel(ctx context.Context, id string, in CancelOrderInput) (*repository.PurchaseOrder, error) {
	now := s.deps.Now()

	var po *repository.PurchaseOrder
	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		locked, err := s.deps.Orders.LockByID(ctx, id)
		if err != nil {
			return err
		}

		received, err := s.deps.Receipts.ExistsForOrder(ctx, id)
		if err != nil {
			return err
		}
		if received {
			return errors.Conflict("cannot cancel an order that has goods receipts")
		}
		if !locked.Status.CanTransitionTo(domain.OrderCancelled) {
			return errors.InvalidState(fmt.Sprintf("cannot cancel a %s order", locked.Status))
		}

		locked.Status = domain.OrderCancelled
		locked.CancelledAt = &now
		locked.CancelReason = strPtr(strings.TrimSpace(in.Reason))
		if err := s.deps.Orders.Update(ctx, locked); err != nil {
			return err
		}
		po = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("purchase_order_id", id).Msg("purchase order cancelled")
	return po, nil
}

// SendToSupplier asks the email collaborator to send the order to its
// supplier, submitting drafts first. A failed send is logged and left for the
// retry job; the order itself is kept.
func (s *PurchaseOrderService) SendToSupplier(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	now := s.deps.Now()

	po, err := s.transition(ctx, id, func(po *repository.PurchaseOrder) error {
		switch po.Status {
		case domain.OrderCancelled, domain.OrderReceived:
			return errors.InvalidState(fmt.Sprintf("cannot email a %s order", po.Status))
		case domain.OrderDraft:
			po.Status = domain.OrderOrdered
		}
		po.EmailRequestedAt = &now
		po.EmailSent = false
		po.EmailSentAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deliver(ctx, po)
	return po, nil
}

// RetryPendingEmails re-sends every order whose email was requested but not
// confirmed. It returns how many were delivered.
func (s *PurchaseOrderService) RetryPendingEmails(ctx context.Context) (int, error) {
	pending, err := s.deps.Orders.ListPendingEmails(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, po := range pending {
		if s.deliver(ctx, po) {
			sent++
		}
	}
	return sent, nil
}

func (s *PurchaseOrderService) deliver(ctx context.Context, po *repository.PurchaseOrder) bool {
	if s.deps.Notifier == nil {
		s.logger.Warn().Str("purchase_order_id", po.ID).Msg("no supplier notifier configured, email left pending")
		return false
	}

	if err := s.deps.Notifier.RequestOrderEmail(ctx, po); err != nil {
		s.logger.Error().Err(err).
			Str("purchase_order_id", po.ID).
			Str("supplier_id", po.SupplierID).
			Msg("failed to send purchase order to supplier")
		return false
	}

	sentAt := s.deps.Now()
	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		current, err := s.deps.Orders.LockByID(ctx, po.ID)
		if err != nil {
			return err
		}
		current.EmailSent = true
		current.EmailSentAt = &sentAt
		if err := s.deps.Orders.Update(ctx, current); err != nil {
			return err
		}
		*po = *current
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("purchase_order_id", po.ID).Msg("failed to record supplier email")
		return false
	}
	return true
}

// Get returns an order with its lines.
func (s *PurchaseOrderService) Get(ctx context.Context, id string) (*repository.PurchaseOrder, error) {
	return s.deps.Orders.GetByID(ctx, id)
}

// List lists orders, newest first.
func (s *PurchaseOrderService) List(ctx context.Context, filter repository.OrderFilter) ([]*repository.PurchaseOrder, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errors.Validation(map[string]string{"status": "unknown order status"})
	}
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)
	return s.deps.Orders.List(ctx, filter)
}

func (s *PurchaseOrderService) transition(ctx context.Context, id string, apply func(*repository.PurchaseOrder) error) (*repository.PurchaseOrder, error) {
	var po *repository.PurchaseOrder
	err := s.deps.Tx.WithinTenant(ctx, func(ctx context.Context) error {
		locked, err := s.deps.Orders.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(locked); err != nil {
			return err
		}
		if err := s.deps.Orders.Update(ctx, locked); err != nil {
			return err
		}
		po = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

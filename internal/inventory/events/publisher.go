package events

import (
	"context"
	"fmt"

	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/actor"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/messaging"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
)

const source = "inventory-service"

// Sink publishes one event payload under an event type.
type Sink interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes inventory events. A nil publisher is a no-op.
type InventoryEventPublisher struct {
	sink   Sink
	logger *logger.Logger
}

var _ service.EventPublisher = (*InventoryEventPublisher)(nil)

// NewInventoryEventPublisher declares the inventory exchange and returns a publisher for it.
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, source, log)
	if err != nil {
		return nil, err
	}
	return NewInventoryEventPublisherWithSink(publisher, log), nil
}

// NewInventoryEventPublisherWithSink publishes through sink.
func NewInventoryEventPublisherWithSink(sink Sink, log *logger.Logger) *InventoryEventPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &InventoryEventPublisher{sink: sink, logger: log}
}

// GoodsReceived publishes a goods received event
func (p *InventoryEventPublisher) GoodsReceived(ctx context.Context, gr *repository.GoodsReceipt, po *repository.PurchaseOrder) {
	if p == nil || gr == nil {
		return
	}

	data := messaging.GoodsReceivedEvent{
		TenantScoped:    scope(ctx),
		ReceiptID:       gr.ID,
		ReceiptNumber:   gr.ReceiptNumber,
		PurchaseOrderID: gr.PurchaseOrderID,
		ReceivedBy:      gr.ReceivedBy,
		TotalAmount:     gr.TotalAmount.StringFixed(2),
		Lines:           make([]messaging.GoodsReceivedLine, 0, len(gr.Lines)),
	}
	if po != nil {
		data.OrderStatus = string(po.Status)
	}
	for _, l := range gr.Lines {
		data.Lines = append(data.Lines, messaging.GoodsReceivedLine{
			ItemID:           l.ItemID,
			BatchID:          l.BatchID,
			BatchNumber:      l.BatchNumber,
			QuantityReceived: l.QuantityReceived,
			ExpiryDate:       l.ExpiryDate,
		})
	}

	p.publish(ctx, messaging.EventGoodsReceived, data, "receipt_id", gr.ID)
}

// StockConsumed publishes a stock consumed event
func (p *InventoryEventPublisher) StockConsumed(ctx context.Context, res *service.ConsumeResult) {
	if p == nil || res == nil {
		return
	}

	data := messaging.StockConsumedEvent{
		TenantScoped: scope(ctx),
		ItemID:       res.ItemID,
		Quantity:     res.Quantity,
		Reference:    res.Reference,
		PerformedBy:  actor.IDFromContext(ctx),
		Allocations:  make([]messaging.StockAllocation, 0, len(res.Allocations)),
	}
	for _, a := range res.Allocations {
		data.Allocations = append(data.Allocations, messaging.StockAllocation{
			BatchID:     a.BatchID,
			BatchNumber: a.BatchNumber,
			Quantity:    a.Quantity,
		})
	}

	p.publish(ctx, messaging.EventStockConsumed, data, "item_id", res.ItemID)
}

// StockAdjusted publishes a stock adjusted event
func (p *InventoryEventPublisher) StockAdjusted(ctx context.Context, m *repository.StockMovement) {
	if p == nil || m == nil {
		return
	}

	reason := ""
	if m.Reason != nil {
		reason = *m.Reason
	}

	data := messaging.StockAdjustedEvent{
		TenantScoped: scope(ctx),
		ItemID:       m.ItemID,
		BatchID:      m.BatchID,
		Adjustment:   m.Quantity,
		NewQuantity:  m.QuantityAfter,
		PerformedBy:  m.PerformedBy,
		Reason:       reason,
	}

	p.publish(ctx, messaging.EventStockAdjusted, data, "item_id", m.ItemID)
}

// AlertGenerated publishes an alert generated event
func (p *InventoryEventPublisher) AlertGenerated(ctx context.Context, a *repository.StockAlert) {
	if p == nil || a == nil {
		return
	}
	p.publish(ctx, messaging.EventAlertGenerated, alertEvent(ctx, a), "alert_type", string(a.AlertType))
}

// AlertResolved publishes an alert resolved event
func (p *InventoryEventPublisher) AlertResolved(ctx context.Context, a *repository.StockAlert) {
	if p == nil || a == nil {
		return
	}
	p.publish(ctx, messaging.EventAlertResolved, alertEvent(ctx, a), "alert_type", string(a.AlertType))
}

func (p *InventoryEventPublisher) publish(ctx context.Context, eventType string, data interface{}, key, value string) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Str(key, value).Msg("failed to publish event")
	}
}

func alertEvent(ctx context.Context, a *repository.StockAlert) messaging.AlertEvent {
	return messaging.AlertEvent{
		TenantScoped: scope(ctx),
		AlertID:      a.ID,
		AlertType:    string(a.AlertType),
		Severity:     a.Severity,
		Message:      a.Message,
		ItemID:       a.ItemID,
		BatchNumber:  a.BatchNumber,
	}
}

// SupplierNotifier asks the notification service to email purchase orders
// to suppliers.
type SupplierNotifier struct {
	sink   Sink
	logger *logger.Logger
}

var _ service.SupplierNotifier = (*SupplierNotifier)(nil)

// NewSupplierNotifier declares the notification exchange and returns a notifier for it.
func NewSupplierNotifier(rmq *messaging.RabbitMQ, log *logger.Logger) (*SupplierNotifier, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeNotificationEvents, source, log)
	if err != nil {
		return nil, err
	}
	return NewSupplierNotifierWithSink(publisher, log), nil
}

// NewSupplierNotifierWithSink publishes email requests through sink.
func NewSupplierNotifierWithSink(sink Sink, log *logger.Logger) *SupplierNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &SupplierNotifier{sink: sink, logger: log}
}

// RequestOrderEmail publishes an email request for po. Retries of one send
// request share an idempotency key; a new send request gets a new one.
func (n *SupplierNotifier) RequestOrderEmail(ctx context.Context, po *repository.PurchaseOrder) error {
	if po == nil {
		return fmt.Errorf("purchase order is required")
	}

	requested := po.OrderDate
	if po.EmailRequestedAt != nil {
		requested = *po.EmailRequestedAt
	}

	data := messaging.EmailRequestedEvent{
		TenantScoped:   scope(ctx),
		Template:       "purchase_order",
		RecipientID:    po.SupplierID,
		RecipientType:  "supplier",
		Subject:        fmt.Sprintf("Purchase order %s", po.PONumber),
		ReferenceID:    po.ID,
		IdempotencyKey: fmt.Sprintf("po:%s:%d", po.ID, requested.UnixNano()),
		Variables: map[string]string{
			"po_number":    po.PONumber,
			"order_date":   po.OrderDate.Format("2006-01-02"),
			"total_amount": po.TotalAmount.StringFixed(2),
			"line_count":   fmt.Sprintf("%d", len(po.Lines)),
		},
	}
	if po.ExpectedDeliveryDate != nil {
		data.Variables["expected_delivery_date"] = po.ExpectedDeliveryDate.Format("2006-01-02")
	}

	if err := n.sink.Publish(ctx, messaging.EventEmailRequested, data); err != nil {
		return fmt.Errorf("failed to request supplier email for %s: %w", po.PONumber, err)
	}

	n.logger.Debug().Str("po_number", po.PONumber).Str("supplier_id", po.SupplierID).Msg("supplier email requested")
	return nil
}

func scope(ctx context.Context) messaging.TenantScoped {
	id, _ := tenant.TenantID(ctx)
	return messaging.TenantScoped{TenantID: id}
}

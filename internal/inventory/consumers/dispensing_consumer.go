package consumers

import (
	"context"
	"fmt"

	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/actor"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/messaging"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
)

// DispensingQueue receives dispensing events for the inventory service.
const DispensingQueue = "inventory-service.dispensing-events"

// StockConsumer draws stock from the ledger.
type StockConsumer interface {
	Consume(ctx context.Context, in service.ConsumeInput) (*service.ConsumeResult, error)
}

// DispensingEventConsumer consumes stock for items dispensed elsewhere.
type DispensingEventConsumer struct {
	consumer *messaging.Consumer
	ledger   StockConsumer
	logger   *logger.Logger
}

// NewDispensingEventConsumer creates a new dispensing event consumer
func NewDispensingEventConsumer(rmq *messaging.RabbitMQ, ledger StockConsumer, log *logger.Logger) (*DispensingEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, DispensingQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeDispensingEvents, "dispensing.#"); err != nil {
		return nil, err
	}

	return newDispensingEventConsumer(consumer, ledger, log), nil
}

func newDispensingEventConsumer(consumer *messaging.Consumer, ledger StockConsumer, log *logger.Logger) *DispensingEventConsumer {
	c := &DispensingEventConsumer{
		consumer: consumer,
		ledger:   ledger,
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventItemDispensed, c.handleItemDispensed)

	return c
}

// Start starts consuming messages
func (c *DispensingEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *DispensingEventConsumer) handleItemDispensed(ctx context.Context, event *messaging.Event) error {
	var data messaging.ItemDispensedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode dispensed event: %w", err))
	}

	tenantID := data.TenantID
	if tenantID == "" {
		tenantID, _ = tenant.TenantID(ctx)
	}
	if tenantID == "" {
		return messaging.Permanent(fmt.Errorf("dispensed event %s has no tenant", event.ID))
	}

	by := actor.SystemActor()
	by.TenantID = tenantID
	if data.DispensedBy != "" {
		by.ID = data.DispensedBy
	}
	ctx = actor.WithActor(tenant.WithTenantID(ctx, tenantID), by)

	c.logger.Info().
		Str("tenant_id", tenantID).
		Str("dispense_id", data.DispenseID).
		Str("item_id", data.ItemID).
		Int("quantity", data.Quantity).
		Msg("received item dispensed event")

	_, err := c.ledger.Consume(ctx, service.ConsumeInput{
		ItemID:    data.ItemID,
		Quantity:  data.Quantity,
		Reference: "dispense:" + data.DispenseID,
		Reason:    "dispensed",
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, errors.ErrValidation) || errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrInsufficientStock) {
		return messaging.Permanent(err)
	}
	return err
}

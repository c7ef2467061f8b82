package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/messaging"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispensedBody(t *testing.T) []byte {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventItemDispensed, "dispensing-service", "corr-1",
		messaging.ItemDispensedEvent{
			TenantScoped: messaging.TenantScoped{TenantID: "tenant-a"},
			DispenseID:   "d-1",
			ItemID:       "item-1",
			Quantity:     3,
		})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", event.TenantID)

	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestConsumer_Handle(t *testing.T) {
	t.Run("dispatches with tenant and correlation", func(t *testing.T) {
		c := messaging.NewDispatcher(logger.Nop())

		var got messaging.ItemDispensedEvent
		var gotTenant, gotCorrelation string
		c.RegisterHandler(messaging.EventItemDispensed, func(ctx context.Context, e *messaging.Event) error {
			gotTenant, _ = tenant.TenantID(ctx)
			gotCorrelation = messaging.CorrelationID(ctx)
			return e.UnmarshalData(&got)
		})

		outcome := c.Handle(context.Background(), dispensedBody(t), 0)

		assert.Equal(t, messaging.Ack, outcome)
		assert.Equal(t, "tenant-a", gotTenant)
		assert.Equal(t, "corr-1", gotCorrelation)
		assert.Equal(t, 3, got.Quantity)
	})

	t.Run("malformed body is dead-lettered", func(t *testing.T) {
		c := messaging.NewDispatcher(logger.Nop())
		assert.Equal(t, messaging.DeadLetter, c.Handle(context.Background(), []byte("{"), 0))
	})

	t.Run("unknown type is acknowledged", func(t *testing.T) {
		c := messaging.NewDispatcher(logger.Nop())
		assert.Equal(t, messaging.Ack, c.Handle(context.Background(), dispensedBody(t), 0))
	})

	t.Run("failures requeue until retries are exhausted", func(t *testing.T) {
		c := messaging.NewDispatcher(logger.Nop())
		c.RegisterHandler(messaging.EventItemDispensed, func(ctx context.Context, e *messaging.Event) error {
			return errors.New("database unavailable")
		})

		assert.Equal(t, messaging.Requeue, c.Handle(context.Background(), dispensedBody(t), 0))
		assert.Equal(t, messaging.Requeue, c.Handle(context.Background(), dispensedBody(t), messaging.MaxRetries-1))
		assert.Equal(t, messaging.DeadLetter, c.Handle(context.Background(), dispensedBody(t), messaging.MaxRetries))
	})

	t.Run("permanent failures skip retries", func(t *testing.T) {
		c := messaging.NewDispatcher(logger.Nop())
		c.RegisterHandler(messaging.EventItemDispensed, func(ctx context.Context, e *messaging.Event) error {
			return fmt.Errorf("item-1: %w", messaging.Permanent(errors.New("unknown item")))
		})

		assert.Equal(t, messaging.DeadLetter, c.Handle(context.Background(), dispensedBody(t), 0))
	})
}

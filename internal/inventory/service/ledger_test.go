package service_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_RecordReceipt(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "AMOX-250", 20)

	price := decimal.NewFromFloat(1.75)
	b, err := e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{
		ItemID:      item.ID,
		BatchNumber: " LOT-7 ",
		Quantity:    40,
		ExpiryDate:  day(365),
		UnitPrice:   &price,
		Location:    "pharmacy",
		Reference:   "manual",
	})
	require.NoError(t, err)

	assert.Equal(t, "LOT-7", b.BatchNumber)
	assert.Equal(t, 40, b.QuantityAvailable)
	assert.Equal(t, 40, b.InitialQuantity)
	assert.Equal(t, "pharmacy", b.Location)
	assert.True(t, price.Equal(b.PurchasePrice))
	assert.Equal(t, domain.ExpiryOK, b.ExpiryStatus)
	assert.Equal(t, 40, e.stock(t, item.ID))

	movements := e.store.Movements()
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementReceipt, movements[0].MovementType)
	assert.Equal(t, 40, movements[0].Quantity)
	assert.Equal(t, testutil.TestUserID, movements[0].PerformedBy)
}

func TestLedger_RecordReceiptDefaults(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "IBU-400", 5)

	b := e.batch(t, item.ID, "I1", 10, day(60))
	assert.Equal(t, "main-store", b.Location)
	assert.True(t, item.PurchasePrice.Equal(b.PurchasePrice), "price falls back to the catalog purchase price")
	assert.Equal(t, testutil.Date(2026, 10, 17), b.ReceivedDate)
}

func TestLedger_RecordReceiptValidation(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "CETI-10", 5)

	tests := []struct {
		name  string
		input service.ReceiptInput
		field string
	}{
		{"zero quantity", service.ReceiptInput{ItemID: item.ID, BatchNumber: "C1", Quantity: 0, ExpiryDate: day(30)}, "quantity"},
		{"negative quantity", service.ReceiptInput{ItemID: item.ID, BatchNumber: "C1", Quantity: -3, ExpiryDate: day(30)}, "quantity"},
		{"missing batch number", service.ReceiptInput{ItemID: item.ID, Quantity: 1, ExpiryDate: day(30)}, "batch_number"},
		{"missing expiry", service.ReceiptInput{ItemID: item.ID, BatchNumber: "C1", Quantity: 1}, "expiry_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ledger.RecordReceipt(e.ctx, tt.input)
			require.Error(t, err)

			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
	assert.Equal(t, 0, e.stock(t, item.ID))
}

func TestLedger_RecordReceiptDuplicateBatch(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "LORA-10", 5)
	e.batch(t, item.ID, "L1", 10, day(60))

	_, err := e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{ItemID: item.ID, BatchNumber: "L1", Quantity: 5, ExpiryDate: day(90)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Equal(t, 10, e.stock(t, item.ID))
}

func TestLedger_ExpiredReceiptPolicy(t *testing.T) {
	t.Run("accepted and flagged by default", func(t *testing.T) {
		e := newEnv(t)
		item := e.item(t, "OLD-1", 0)

		b := e.batch(t, item.ID, "X1", 5, day(-1))
		assert.True(t, b.IsExpired)
		assert.Equal(t, domain.ExpiryExpired, b.ExpiryStatus)
	})

	t.Run("rejected when configured", func(t *testing.T) {
		e := newEnv(t, func(d *service.Deps) { d.Config.RejectExpiredReceipts = true })
		item := e.item(t, "OLD-2", 0)

		_, err := e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{ItemID: item.ID, BatchNumber: "X1", Quantity: 5, ExpiryDate: day(-1)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))

		_, err = e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{ItemID: item.ID, BatchNumber: "X2", Quantity: 5, ExpiryDate: now.Add(-2 * time.Hour)})
		require.Error(t, err, "expired earlier today")
		assert.True(t, errors.Is(err, errors.ErrValidation))

		b, err := e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{ItemID: item.ID, BatchNumber: "X3", Quantity: 5, ExpiryDate: now.Add(2 * time.Hour)})
		require.NoError(t, err, "a batch expiring later today is still usable")
		assert.False(t, b.IsExpired)
		assert.True(t, b.ExpiryDate.Equal(now.Add(2*time.Hour)), "expiry keeps its time of day")
	})
}

func TestLedger_ConsumeFEFO(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "FEFO", 0)
	b2 := e.batch(t, item.ID, "B2", 10, day(120))
	b1 := e.batch(t, item.ID, "B1", 5, day(40))

	res, err := e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 7, Reference: "RX-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, e.store.Batch(b1.ID).QuantityAvailable)
	assert.Equal(t, 8, e.store.Batch(b2.ID).QuantityAvailable)
	assert.Equal(t, 8, res.RemainingStock)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, "B1", res.Allocations[0].BatchNumber)
	assert.Equal(t, 5, res.Allocations[0].Quantity)
	assert.Equal(t, "B2", res.Allocations[1].BatchNumber)
	assert.Equal(t, 2, res.Allocations[1].Quantity)

	require.Len(t, e.events.consumed, 1)

	var consumed int
	for _, m := range e.store.Movements() {
		if m.MovementType == domain.MovementConsumption {
			consumed += m.Quantity
			require.NotNil(t, m.Reference)
			assert.Equal(t, "RX-1", *m.Reference)
		}
	}
	assert.Equal(t, -7, consumed)
}

func TestLedger_ConsumeInsufficientChangesNothing(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "SHORT", 0)
	b1 := e.batch(t, item.ID, "S1", 3, day(10))
	b2 := e.batch(t, item.ID, "S2", 4, day(20))

	_, err := e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 8})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	assert.Equal(t, "INSUFFICIENT_STOCK", errors.CodeOf(err))
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "7", appErr.Details["available"])
	assert.Equal(t, "7", appErr.Details["on_hand"])

	assert.Equal(t, 3, e.store.Batch(b1.ID).QuantityAvailable)
	assert.Equal(t, 4, e.store.Batch(b2.ID).QuantityAvailable)
	assert.Len(t, e.store.Movements(), 2, "only the two receipt movements exist")
	assert.Empty(t, e.events.consumed)
}

func TestLedger_ConsumeSkipsExpiredBatches(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "EXP", 0)
	expired := e.batch(t, item.ID, "E0", 5, day(-2))
	fresh := e.batch(t, item.ID, "E1", 3, day(15))

	_, err := e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "3", appErr.Details["available"], "only unexpired stock can be consumed")
	assert.Equal(t, "8", appErr.Details["on_hand"])
	assert.Contains(t, appErr.Message, "5 expired")

	current, err := e.ledger.CurrentStock(e.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, current)

	res, err := e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 3})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, fresh.ID, res.Allocations[0].BatchID)
	assert.Equal(t, 5, e.store.Batch(expired.ID).QuantityAvailable)
	assert.Equal(t, 5, res.RemainingStock)
}

func TestLedger_ConsumeValidation(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "VAL", 0)

	_, err := e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 0})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: "00000000-0000-0000-0000-000000000999", Quantity: 1})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLedger_Conservation(t *testing.T) {
	e := newEnv(t)
	rng := rand.New(rand.NewSource(42))

	itemIDs := []string{
		e.item(t, "C-1", 5).ID,
		e.item(t, "C-2", 5).ID,
		e.item(t, "C-3", 5).ID,
	}

	batchSeq := 0
	for step := 0; step < 200; step++ {
		itemID := itemIDs[rng.Intn(len(itemIDs))]
		if rng.Intn(3) == 0 {
			batchSeq++
			_, err := e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{
				ItemID:      itemID,
				BatchNumber: "LOT-" + string(rune('A'+batchSeq%26)) + "-" + decimal.NewFromInt(int64(batchSeq)).String(),
				Quantity:    1 + rng.Intn(20),
				ExpiryDate:  day(1 + rng.Intn(400)),
			})
			require.NoError(t, err)
			continue
		}
		_, err := e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: itemID, Quantity: 1 + rng.Intn(15)})
		if err != nil {
			require.True(t, errors.Is(err, errors.ErrInsufficientStock), "unexpected error: %v", err)
		}
	}

	movementTotals := map[string]int{}
	for _, m := range e.store.Movements() {
		movementTotals[m.ItemID] += m.Quantity
	}

	totals, err := e.ledger.StockTotals(e.ctx)
	require.NoError(t, err)

	for _, id := range itemIDs {
		sum := 0
		for _, b := range e.store.ItemBatches(id) {
			require.GreaterOrEqual(t, b.QuantityAvailable, 0)
			sum += b.QuantityAvailable
		}
		assert.Equal(t, sum, e.stock(t, id))
		assert.Equal(t, sum, totals[id])
		assert.Equal(t, sum, movementTotals[id], "ledger entries reconcile with batch quantities")
	}
}

func TestLedger_Adjust(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "ADJ", 0)
	b := e.batch(t, item.ID, "A1", 10, day(50))

	_, err := e.ledger.Adjust(e.ctx, b.ID, service.AdjustInput{Delta: -11, Reason: "count"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = e.ledger.Adjust(e.ctx, b.ID, service.AdjustInput{Delta: 2})
	assert.True(t, errors.Is(err, errors.ErrValidation), "a reason is required")

	adjusted, err := e.ledger.Adjust(e.ctx, b.ID, service.AdjustInput{Delta: -3, Reason: "broken vials"})
	require.NoError(t, err)
	assert.Equal(t, 7, adjusted.QuantityAvailable)
	assert.Equal(t, 7, e.stock(t, item.ID))

	require.Len(t, e.events.adjusted, 1)
	assert.Equal(t, domain.MovementAdjustment, e.events.adjusted[0].MovementType)
	assert.Equal(t, -3, e.events.adjusted[0].Quantity)

	movements, total, err := e.ledger.ListMovements(e.ctx, item.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, domain.MovementAdjustment, movements[0].MovementType, "newest first")
}

func TestLedger_ExpiryQueries(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "Q", 0)
	e.batch(t, item.ID, "GONE", 2, day(-1))
	e.batch(t, item.ID, "MORNING", 2, now.Add(-2*time.Hour))
	e.batch(t, item.ID, "TODAY", 2, now.Add(2*time.Hour))
	e.batch(t, item.ID, "EDGE", 2, now.AddDate(0, 0, 30))
	e.batch(t, item.ID, "LATER", 2, day(31))
	empty := e.batch(t, item.ID, "EMPTY", 1, day(5))
	_, err := e.ledger.Adjust(e.ctx, empty.ID, service.AdjustInput{Delta: -1, Reason: "write-off"})
	require.NoError(t, err)

	expiring, err := e.ledger.ExpiringWithin(e.ctx, 30)
	require.NoError(t, err)
	var numbers []string
	for _, b := range expiring {
		numbers = append(numbers, b.BatchNumber)
	}
	assert.Equal(t, []string{"TODAY", "EDGE"}, numbers)

	expired, err := e.ledger.Expired(e.ctx)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "GONE", expired[0].BatchNumber)
	assert.Equal(t, "MORNING", expired[1].BatchNumber)
	assert.True(t, expired[1].IsExpired)

	within := 5
	listed, total, err := e.ledger.ListBatches(e.ctx, service.BatchQuery{ItemID: item.ID, ExpiringWithinDays: &within})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total, "the filter is a time cutoff, expired batches included")
	assert.Len(t, listed, 3)
}

package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postgresDeps() service.Deps {
	return service.Deps{Stores: service.NewStores(suite.DB)}
}

// race runs fn from n goroutines released at the same moment and returns
// their errors in goroutine order.
func race(n int, fn func(i int) error) []error {
	var (
		start = make(chan struct{})
		wg    sync.WaitGroup
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestIntegration_ConcurrentReceiptsCannotOverReceive(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := suite.CreateTenant(t, context.Background(), "concurrent-receipts")

	deps := postgresDeps()
	ledger := service.NewLedgerService(deps)
	orders := service.NewPurchaseOrderService(deps)
	receipts := service.NewGoodsReceiptService(deps, ledger)

	item := createItem(t, ctx, "RACE-GR", 0)
	po, err := orders.Create(ctx, service.CreateOrderInput{
		SupplierID: "supplier-1",
		Submit:     true,
		Lines: []service.OrderLineInput{{
			ItemID: item.ID, QuantityOrdered: 100, UnitPrice: decimal.RequireFromString("2.50"),
		}},
	})
	require.NoError(t, err)

	expiry := time.Now().UTC().AddDate(1, 0, 0)
	errs := race(2, func(i int) error {
		_, err := receipts.Post(ctx, service.PostReceiptInput{
			PurchaseOrderID: po.ID,
			Lines: []service.ReceiptLineInput{{
				ItemID: item.ID, QuantityReceived: 60, BatchNumber: fmt.Sprintf("RACE-%d", i), ExpiryDate: expiry,
			}},
		})
		return err
	})

	var succeeded, overReceived int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.CodeOf(err) == "OVER_RECEIPT":
			overReceived++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, overReceived)

	got, err := orders.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Lines[0].ReceivedQuantity)

	stock, err := ledger.CurrentStock(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, stock, "the losing receipt created no batch")
}

func TestIntegration_ConcurrentConsumeCannotOverAllocate(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := suite.CreateTenant(t, context.Background(), "concurrent-consume")

	ledger := service.NewLedgerService(postgresDeps())

	item := createItem(t, ctx, "RACE-CON", 0)
	_, err := ledger.RecordReceipt(ctx, service.ReceiptInput{
		ItemID: item.ID, BatchNumber: "STOCK-1", Quantity: 10, ExpiryDate: time.Now().UTC().AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	errs := race(2, func(i int) error {
		_, err := ledger.Consume(ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 8, Reference: fmt.Sprintf("rx-%d", i)})
		return err
	})

	var succeeded, short int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errors.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)

	stock, err := ledger.CurrentStock(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stock)
}

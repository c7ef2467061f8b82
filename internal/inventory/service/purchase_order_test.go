package service_test

import (
	stderrors "errors"
	"testing"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseOrder_CreateComputesTotals(t *testing.T) {
	e := newEnv(t)
	gloves := e.item(t, "GLV", 10)
	masks := e.item(t, "MSK", 10)

	po, err := e.orders.Create(e.ctx, service.CreateOrderInput{
		SupplierID: "medsupply",
		Lines: []service.OrderLineInput{
			line(gloves.ID, 10, 2.50),
			line(masks.ID, 4, 1.25),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderDraft, po.Status)
	assert.True(t, decimal.NewFromInt(30).Equal(po.TotalAmount), "got %s", po.TotalAmount)
	assert.Regexp(t, `^PO-20261017-[0-9A-F]{8}$`, po.PONumber)
	assert.Equal(t, testutil.TestUserID, po.CreatedBy)
	require.Len(t, po.Lines, 2)
	assert.Equal(t, 1, po.Lines[0].LineNumber)
	assert.True(t, decimal.NewFromInt(25).Equal(po.Lines[0].LineTotal))
	require.NotNil(t, po.Lines[1].ItemName)
	assert.Equal(t, masks.Name, *po.Lines[1].ItemName)
}

func TestPurchaseOrder_CreateValidation(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "V-1", 1)

	_, err := e.orders.Create(e.ctx, service.CreateOrderInput{SupplierID: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = e.orders.Create(e.ctx, service.CreateOrderInput{
		SupplierID: "s",
		Lines:      []service.OrderLineInput{line(item.ID, 0, 1), line(item.ID, 1, -2)},
	})
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "lines[0].quantity_ordered")
	assert.Contains(t, appErr.Details, "lines[1].unit_price")

	_, err = e.orders.Create(e.ctx, service.CreateOrderInput{
		SupplierID: "s",
		Lines:      []service.OrderLineInput{line("00000000-0000-0000-0000-00000000beef", 1, 1)},
	})
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "item does not exist", appErr.Details["lines[0].item_id"])

	_, err = e.orders.Create(e.ctx, service.CreateOrderInput{PONumber: "PO-1", SupplierID: "s", Lines: []service.OrderLineInput{line(item.ID, 1, 1)}})
	require.NoError(t, err)
	_, err = e.orders.Create(e.ctx, service.CreateOrderInput{PONumber: "PO-1", SupplierID: "s", Lines: []service.OrderLineInput{line(item.ID, 1, 1)}})
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestPurchaseOrder_Submit(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "SUB", 1)

	po, err := e.orders.Create(e.ctx, service.CreateOrderInput{SupplierID: "s", Lines: []service.OrderLineInput{line(item.ID, 5, 1)}})
	require.NoError(t, err)

	submitted, err := e.orders.Submit(e.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOrdered, submitted.Status)

	_, err = e.orders.Submit(e.ctx, po.ID)
	require.Error(t, err)
	assert.Equal(t, "INVALID_STATE", errors.CodeOf(err))
}

func TestPurchaseOrder_Cancel(t *testing.T) {
	t.Run("draft and ordered orders cancel", func(t *testing.T) {
		e := newEnv(t)
		item := e.item(t, "CAN", 1)

		for _, submit := range []bool{false, true} {
			po, err := e.orders.Create(e.ctx, service.CreateOrderInput{SupplierID: "s", Submit: submit, Lines: []service.OrderLineInput{line(item.ID, 5, 1)}})
			require.NoError(t, err)

			cancelled, err := e.orders.Cancel(e.ctx, po.ID, service.CancelOrderInput{Reason: "duplicate"})
			require.NoError(t, err)
			assert.Equal(t, domain.OrderCancelled, cancelled.Status)
			require.NotNil(t, cancelled.CancelReason)
			assert.Equal(t, "duplicate", *cancelled.CancelReason)

			_, err = e.orders.Cancel(e.ctx, po.ID, service.CancelOrderInput{})
			assert.Equal(t, "INVALID_STATE", errors.CodeOf(err), "cancelled is terminal")
		}
	})

	t.Run("orders with receipts cannot be cancelled", func(t *testing.T) {
		e := newEnv(t)
		item := e.item(t, "REC", 1)
		po := e.order(t, line(item.ID, 10, 1))

		_, err := e.receipts.Post(e.ctx, service.PostReceiptInput{
			PurchaseOrderID: po.ID,
			Lines:           []service.ReceiptLineInput{{ItemID: item.ID, QuantityReceived: 4, BatchNumber: "R1", ExpiryDate: day(90)}},
		})
		require.NoError(t, err)

		_, err = e.orders.Cancel(e.ctx, po.ID, service.CancelOrderInput{})
		require.Error(t, err)
		assert.Equal(t, "CONFLICT", errors.CodeOf(err))
		assert.Equal(t, domain.OrderPartiallyReceived, e.store.Order(po.ID).Status)
	})
}

func TestPurchaseOrder_SendToSupplier(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "MAIL", 1)

	po, err := e.orders.Create(e.ctx, service.CreateOrderInput{SupplierID: "s", Lines: []service.OrderLineInput{line(item.ID, 5, 1)}})
	require.NoError(t, err)

	sent, err := e.orders.SendToSupplier(e.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOrdered, sent.Status, "sending a draft submits it")
	assert.True(t, sent.EmailSent)
	assert.NotNil(t, sent.EmailSentAt)
	assert.Equal(t, []string{po.ID}, e.notifier.sent)
}

func TestPurchaseOrder_EmailFailureKeepsOrderAndRetries(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "RETRY", 1)
	po := e.order(t, line(item.ID, 5, 1))

	e.notifier.fail(stderrors.New("smtp unavailable"))

	result, err := e.orders.SendToSupplier(e.ctx, po.ID)
	require.NoError(t, err, "an email failure never fails the operation")
	assert.False(t, result.EmailSent)

	stored := e.store.Order(po.ID)
	require.NotNil(t, stored)
	assert.False(t, stored.EmailSent)
	assert.NotNil(t, stored.EmailRequestedAt)

	n, err := e.orders.RetryPendingEmails(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e.notifier.fail(nil)
	n, err = e.orders.RetryPendingEmails(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, e.store.Order(po.ID).EmailSent)

	n, err = e.orders.RetryPendingEmails(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "delivered orders are not re-sent")
}

func TestPurchaseOrder_SendRejectedForClosedOrders(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "CLOSED", 1)
	po := e.order(t, line(item.ID, 5, 1))

	_, err := e.orders.Cancel(e.ctx, po.ID, service.CancelOrderInput{})
	require.NoError(t, err)

	_, err = e.orders.SendToSupplier(e.ctx, po.ID)
	assert.Equal(t, "INVALID_STATE", errors.CodeOf(err))
	assert.Empty(t, e.notifier.sent)
}

func TestPurchaseOrder_List(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "LIST", 1)
	first := e.order(t, line(item.ID, 1, 1))
	second, err := e.orders.Create(e.ctx, service.CreateOrderInput{SupplierID: "other", Lines: []service.OrderLineInput{line(item.ID, 1, 1)}})
	require.NoError(t, err)

	all, total, err := e.orders.List(e.ctx, repository.OrderFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	ordered, _, err := e.orders.List(e.ctx, repository.OrderFilter{Status: domain.OrderOrdered})
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	assert.Equal(t, first.ID, ordered[0].ID)

	_, _, err = e.orders.List(e.ctx, repository.OrderFilter{Status: "shipped"})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

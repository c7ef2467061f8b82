package service_test

import (
	"testing"

	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_CreateItem(t *testing.T) {
	e := newEnv(t)

	cat, err := e.catalog.CreateCategory(e.ctx, service.CategoryInput{Name: "Analgesics"})
	require.NoError(t, err)

	barcode := "  4006381333931 "
	item, err := e.catalog.CreateItem(e.ctx, service.ItemInput{
		SKU:           " PARA-500 ",
		Barcode:       &barcode,
		Name:          "Paracetamol 500mg",
		CategoryID:    &cat.ID,
		Unit:          "tablet",
		PurchasePrice: decimal.NewFromFloat(0.05),
		SalePrice:     decimal.NewFromFloat(0.10),
		MRP:           decimal.NewFromFloat(0.12),
		ReorderPoint:  100,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "PARA-500", item.SKU)
	require.NotNil(t, item.Barcode)
	assert.Equal(t, "4006381333931", *item.Barcode)
	assert.True(t, item.IsActive)
	assert.True(t, item.IsLowStock, "an item without stock is at or below its reorder point")

	detail, err := e.catalog.GetItem(e.ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.CategoryName)
	assert.Equal(t, "Analgesics", *detail.CategoryName)
	assert.Empty(t, detail.Batches)
}

func TestCatalog_CreateItemValidation(t *testing.T) {
	e := newEnv(t)
	missing := "00000000-0000-0000-0000-00000000abcd"

	_, err := e.catalog.CreateItem(e.ctx, service.ItemInput{
		SKU:           "X-1",
		Name:          "",
		Unit:          "box",
		PurchasePrice: decimal.NewFromInt(-1),
		ReorderPoint:  -5,
		CategoryID:    &missing,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "name")
	assert.Contains(t, appErr.Details, "purchase_price")
	assert.Contains(t, appErr.Details, "reorder_point")
	assert.Contains(t, appErr.Details, "category_id")
}

func TestCatalog_UniqueSKUAndBarcode(t *testing.T) {
	e := newEnv(t)
	first := e.item(t, "GLOVE-M", 10)

	_, err := e.catalog.CreateItem(e.ctx, service.ItemInput{SKU: "GLOVE-M", Name: "Other", Unit: "box"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	code := "123"
	_, err = e.catalog.UpdateItem(e.ctx, first.ID, service.ItemInput{SKU: "GLOVE-M", Name: "Gloves M", Unit: "box", Barcode: &code})
	require.NoError(t, err)

	_, err = e.catalog.CreateItem(e.ctx, service.ItemInput{SKU: "GLOVE-L", Name: "Gloves L", Unit: "box", Barcode: &code})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "barcode")
}

func TestCatalog_UpdateThreshold(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "SYR-5", 10)
	e.batch(t, item.ID, "S1", 20, day(200))

	updated, err := e.catalog.UpdateItem(e.ctx, item.ID, service.ItemInput{
		SKU: "SYR-5", Name: item.Name, Unit: "piece", ReorderPoint: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, updated.ReorderPoint)
	assert.Equal(t, 20, updated.CurrentStock)
	assert.True(t, updated.IsLowStock)
	assert.Empty(t, e.store.OpenAlerts(), "threshold edits wait for the next evaluation")
}

func TestCatalog_ListItemsFilters(t *testing.T) {
	e := newEnv(t)

	cat, err := e.catalog.CreateCategory(e.ctx, service.CategoryInput{Name: "Consumables"})
	require.NoError(t, err)

	atPoint := e.item(t, "AT-POINT", 10)
	e.batch(t, atPoint.ID, "A1", 10, day(100))
	above := e.item(t, "ABOVE", 10)
	e.batch(t, above.ID, "B1", 11, day(100))

	_, err = e.catalog.UpdateItem(e.ctx, above.ID, service.ItemInput{
		SKU: "ABOVE", Name: "Bandage roll", Unit: "roll", ReorderPoint: 10, CategoryID: &cat.ID,
	})
	require.NoError(t, err)

	low, total, err := e.catalog.ListItems(e.ctx, repository.ItemFilter{LowStockOnly: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, low, 1)
	assert.Equal(t, atPoint.ID, low[0].ID)
	assert.True(t, low[0].IsLowStock)

	byCategory, _, err := e.catalog.ListItems(e.ctx, repository.ItemFilter{CategoryID: cat.ID})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, above.ID, byCategory[0].ID)

	search, _, err := e.catalog.ListItems(e.ctx, repository.ItemFilter{Query: " bandage "})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, 11, search[0].CurrentStock)
	assert.False(t, search[0].IsLowStock)
}

func TestCatalog_Deactivate(t *testing.T) {
	t.Run("rejected while stock remains", func(t *testing.T) {
		e := newEnv(t)
		item := e.item(t, "MASK", 5)
		e.batch(t, item.ID, "M1", 3, day(90))

		_, err := e.catalog.DeactivateItem(e.ctx, item.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})

	t.Run("rejected while an open order line references it", func(t *testing.T) {
		e := newEnv(t)
		item := e.item(t, "GAUZE", 5)
		e.order(t, line(item.ID, 10, 1))

		_, err := e.catalog.DeactivateItem(e.ctx, item.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConflict))
		assert.Contains(t, err.Error(), "purchase order")
	})

	t.Run("hides the item from default listings", func(t *testing.T) {
		e := newEnv(t)
		item := e.item(t, "SWAB", 5)
		b := e.batch(t, item.ID, "W1", 4, day(90))
		_, err := e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 4})
		require.NoError(t, err)
		assert.Equal(t, 0, e.store.Batch(b.ID).QuantityAvailable)

		deactivated, err := e.catalog.DeactivateItem(e.ctx, item.ID)
		require.NoError(t, err)
		assert.False(t, deactivated.IsActive)

		items, _, err := e.catalog.ListItems(e.ctx, repository.ItemFilter{})
		require.NoError(t, err)
		assert.Empty(t, items)

		all, _, err := e.catalog.ListItems(e.ctx, repository.ItemFilter{IncludeInactive: true})
		require.NoError(t, err)
		assert.Len(t, all, 1)

		reactivated, err := e.catalog.ActivateItem(e.ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, reactivated.IsActive)
	})
}

func TestCatalog_DuplicateCategory(t *testing.T) {
	e := newEnv(t)
	_, err := e.catalog.CreateCategory(e.ctx, service.CategoryInput{Name: "Vaccines"})
	require.NoError(t, err)

	_, err = e.catalog.CreateCategory(e.ctx, service.CategoryInput{Name: "vaccines"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = e.catalog.CreateCategory(e.ctx, service.CategoryInput{Name: "  "})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

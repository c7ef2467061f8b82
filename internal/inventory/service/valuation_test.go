package service_test

import (
	"testing"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuation_Report(t *testing.T) {
	e := newEnv(t)

	cat, err := e.catalog.CreateCategory(e.ctx, service.CategoryInput{Name: "Antibiotics"})
	require.NoError(t, err)

	amox, err := e.catalog.CreateItem(e.ctx, service.ItemInput{
		SKU: "AMOX", Name: "Amoxicillin", Unit: "capsule", CategoryID: &cat.ID,
		PurchasePrice: decimal.NewFromFloat(0.40), ReorderPoint: 50,
	})
	require.NoError(t, err)
	gauze := e.item(t, "GAUZE", 5)

	cheap := decimal.NewFromFloat(0.30)
	_, err = e.ledger.RecordReceipt(e.ctx, service.ReceiptInput{ItemID: amox.ID, BatchNumber: "A1", Quantity: 30, ExpiryDate: day(20), UnitPrice: &cheap})
	require.NoError(t, err)
	e.batch(t, amox.ID, "A2", 10, day(-5))
	e.batch(t, gauze.ID, "G1", 40, day(500))

	report, err := e.valuation.Report(e.ctx)
	require.NoError(t, err)

	// 30*0.30 + 10*0.40 + 40*2.50
	assert.True(t, decimal.NewFromFloat(113).Equal(report.TotalValue), "got %s", report.TotalValue)
	assert.Equal(t, 2, report.TotalItems)
	assert.Equal(t, 80, report.TotalStock)
	assert.Equal(t, 1, report.LowStockItems)
	assert.Equal(t, 1, report.ExpiringItems)
	assert.Equal(t, 1, report.ExpiredItems)
	assert.Equal(t, now, report.GeneratedAt)

	require.Len(t, report.Categories, 2)
	assert.Equal(t, "Uncategorized", report.Categories[0].CategoryName, "highest value first")
	assert.True(t, decimal.NewFromInt(100).Equal(report.Categories[0].TotalValue))
	assert.Equal(t, "Antibiotics", report.Categories[1].CategoryName)
	assert.Equal(t, 40, report.Categories[1].TotalStock)
	assert.Equal(t, 1, report.Categories[1].ItemCount)
}

func TestValuation_AgreesWithAlertEngine(t *testing.T) {
	e := newEnv(t)
	for i, stock := range []int{0, 4, 10, 11, 60} {
		item := e.item(t, "AGREE-"+string(rune('A'+i)), 10)
		if stock > 0 {
			e.batch(t, item.ID, "X1", stock, day(i*15-20))
		}
	}

	_, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	report, err := e.valuation.Report(e.ctx)
	require.NoError(t, err)

	assert.Equal(t, len(openAlerts(e.store, domain.AlertLowStock)), report.LowStockItems)
	assert.Equal(t, len(openAlerts(e.store, domain.AlertExpiringSoon)), report.ExpiringItems)
	assert.Equal(t, len(openAlerts(e.store, domain.AlertExpired)), report.ExpiredItems)
}

func TestValuation_CacheInvalidatedByMutations(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "CACHE", 1)
	e.batch(t, item.ID, "C1", 10, day(100))

	key := "report:" + testutil.TestTenantID

	first, err := e.valuation.Report(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, first.TotalStock)
	assert.True(t, e.cache.has(key))

	cached, err := e.valuation.Report(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, cached.TotalStock)

	_, err = e.ledger.Consume(e.ctx, service.ConsumeInput{ItemID: item.ID, Quantity: 3})
	require.NoError(t, err)
	assert.False(t, e.cache.has(key))

	fresh, err := e.valuation.Report(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, fresh.TotalStock)
}

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = testutil.TestTenantID

func TestItemRepository_Create(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	item := &repository.InventoryItem{
		SKU:           "AMOX-500",
		Name:          "Amoxicillin 500mg",
		Unit:          "box",
		PurchasePrice: decimal.RequireFromString("4.20"),
		SalePrice:     decimal.RequireFromString("6.00"),
		MRP:           decimal.RequireFromString("6.50"),
		ReorderPoint:  10,
		IsActive:      true,
	}

	mockDB.ExpectTenantQuery(tenantID, "INSERT INTO inventory_items",
		testutil.MockRows("created_at", "updated_at").AddRow(now, now)).
		WithArgs(testutil.AnyUUID{}, "AMOX-500", nil, "Amoxicillin 500mg", nil, nil, "box", false,
			item.PurchasePrice, item.SalePrice, item.MRP, 0, 10, true)

	repo := repository.NewItemRepository(mockDB.Database())
	err := repo.Create(testutil.TenantContext(), item)

	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, now, item.CreatedAt)
	mockDB.ExpectationsWereMet(t)
}

func TestItemRepository_Create_DuplicateSKU(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectTenantBegin(tenantID)
	mockDB.ExpectQuery("INSERT INTO inventory_items").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "inventory_items_sku_key"})
	mockDB.Mock.ExpectRollback()

	repo := repository.NewItemRepository(mockDB.Database())
	err := repo.Create(testutil.TenantContext(), &repository.InventoryItem{SKU: "AMOX-500", Name: "x", Unit: "box"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Contains(t, err.Error(), "SKU")
	mockDB.ExpectationsWereMet(t)
}

func TestItemRepository_GetByID_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectTenantBegin(tenantID)
	mockDB.ExpectQuery("FROM inventory_items i").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows("id"))
	mockDB.Mock.ExpectRollback()

	repo := repository.NewItemRepository(mockDB.Database())
	item, err := repo.GetByID(testutil.TenantContext(), "missing")

	assert.Nil(t, item)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestItemRepository_RequiresTenant(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewItemRepository(mockDB.Database())
	_, err := repo.GetByID(context.Background(), "any")

	require.Error(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestPurchaseOrderRepository_UpdateLineReceived_OverReceipt(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectTenantBegin(tenantID)
	mockDB.ExpectExec("UPDATE purchase_order_lines SET received_quantity").
		WithArgs("line-1", 120).
		WillReturnError(&pq.Error{Code: "23514", Constraint: "purchase_order_lines_received_within_ordered"})
	mockDB.Mock.ExpectRollback()

	repo := repository.NewPurchaseOrderRepository(mockDB.Database())
	err := repo.UpdateLineReceived(testutil.TenantContext(), "line-1", 120)

	require.Error(t, err)
	assert.Equal(t, "OVER_RECEIPT", errors.CodeOf(err))
	assert.True(t, errors.Is(err, errors.ErrConflict))
	mockDB.ExpectationsWereMet(t)
}

func TestAlertRepository_EnsureOpen(t *testing.T) {
	t.Run("creates missing alert", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()

		mockDB.ExpectTenantQuery(tenantID, "ON CONFLICT (tenant_id, alert_type, item_id, batch_number)",
			testutil.MockRows("created_at").AddRow(time.Now()))

		repo := repository.NewAlertRepository(mockDB.Database())
		created, err := repo.EnsureOpen(testutil.TenantContext(), &repository.StockAlert{
			AlertType: domain.AlertLowStock,
			ItemID:    "item-1",
			Severity:  "high",
			Message:   "low",
		})

		require.NoError(t, err)
		assert.True(t, created)
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("existing open alert is left alone", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()

		mockDB.ExpectTenantQuery(tenantID, "ON CONFLICT (tenant_id, alert_type, item_id, batch_number)",
			testutil.MockRows("created_at"))

		repo := repository.NewAlertRepository(mockDB.Database())
		created, err := repo.EnsureOpen(testutil.TenantContext(), &repository.StockAlert{
			AlertType: domain.AlertLowStock,
			ItemID:    "item-1",
		})

		require.NoError(t, err)
		assert.False(t, created)
		mockDB.ExpectationsWereMet(t)
	})
}

func TestAlertRepository_Resolve_NothingOpen(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectTenantQuery(tenantID, "UPDATE stock_alerts SET is_resolved = true",
		testutil.MockRows("id")).
		WithArgs(domain.AlertExpiringSoon, "item-1", "B001", testutil.AnyTime{})

	repo := repository.NewAlertRepository(mockDB.Database())
	alert, err := repo.Resolve(testutil.TenantContext(), domain.AlertKey{
		Type: domain.AlertExpiringSoon, ItemID: "item-1", BatchNumber: "B001",
	}, time.Now())

	require.NoError(t, err)
	assert.Nil(t, alert)
	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_StockTotals(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectTenantQuery(tenantID, "GROUP BY item_id",
		testutil.MockRows("item_id", "total").AddRow("item-1", 15).AddRow("item-2", 0))

	repo := repository.NewBatchRepository(mockDB.Database())
	totals, err := repo.StockTotals(testutil.TenantContext())

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"item-1": 15, "item-2": 0}, totals)
	mockDB.ExpectationsWereMet(t)
}

func TestRepositories_JoinOuterTransaction(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectTenantBegin(tenantID)
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs("item-1").
		WillReturnRows(testutil.MockRows("id", "sku", "name", "unit", "reorder_point", "is_active").
			AddRow("item-1", "AMOX-500", "Amoxicillin", "box", 10, true))
	mockDB.ExpectExec("UPDATE stock_batches SET quantity_available").
		WithArgs("batch-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()

	db := mockDB.Database()
	items := repository.NewItemRepository(db)
	batches := repository.NewBatchRepository(db)

	err := db.WithinTenant(testutil.TenantContext(), func(ctx context.Context) error {
		item, err := items.LockByID(ctx, "item-1")
		if err != nil {
			return err
		}
		assert.Equal(t, "AMOX-500", item.SKU)
		return batches.UpdateQuantity(ctx, "batch-1", 3)
	})

	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}

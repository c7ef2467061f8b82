package service_test

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertEngine_LowStockBoundary(t *testing.T) {
	tests := []struct {
		name    string
		stock   int
		wantLow bool
	}{
		{"below reorder point", 9, true},
		{"at reorder point", 10, true},
		{"above reorder point", 11, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			item := e.item(t, "BOUND", 10)
			e.batch(t, item.ID, "B1", tt.stock, day(365))

			_, err := e.alerts.Evaluate(e.ctx)
			require.NoError(t, err)

			low := openAlerts(e.store, domain.AlertLowStock)
			if tt.wantLow {
				require.Len(t, low, 1)
				assert.Equal(t, item.ID, low[0].ItemID)
				assert.Empty(t, low[0].BatchNumber)
				assert.Equal(t, "high", low[0].Severity)
			} else {
				assert.Empty(t, low)
			}
		})
	}
}

func TestAlertEngine_Idempotent(t *testing.T) {
	e := newEnv(t)
	low := e.item(t, "LOW", 50)
	e.batch(t, low.ID, "L1", 5, day(10))
	e.batch(t, low.ID, "L2", 5, day(-3))
	ok := e.item(t, "OK", 1)
	e.batch(t, ok.ID, "O1", 100, day(300))

	first, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)
	assert.Equal(t, 0, first.Failed)
	before := e.store.Alerts()

	second, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Resolved)
	assert.Equal(t, before, e.store.Alerts())
	assert.Len(t, e.events.generated, 3)

	seen := map[domain.AlertKey]bool{}
	for _, a := range e.store.OpenAlerts() {
		require.False(t, seen[a.Key()], "duplicate open alert %v", a.Key())
		seen[a.Key()] = true
	}
}

func TestAlertEngine_ExpiringSoonBecomesExpired(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "ITEM-42", 10)
	po := e.order(t, line(item.ID, 100, 1))
	_, err := e.receipts.Post(e.ctx, service.PostReceiptInput{
		PurchaseOrderID: po.ID,
		Lines:           []service.ReceiptLineInput{{ItemID: item.ID, QuantityReceived: 100, BatchNumber: "B001", ExpiryDate: day(60)}},
	})
	require.NoError(t, err)

	_, err = e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, e.store.OpenAlerts())

	e.clock.Set(now.AddDate(0, 0, 35))
	_, err = e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)

	soon := openAlerts(e.store, domain.AlertExpiringSoon)
	require.Len(t, soon, 1)
	assert.Equal(t, item.ID, soon[0].ItemID)
	assert.Equal(t, "B001", soon[0].BatchNumber)
	assert.Empty(t, openAlerts(e.store, domain.AlertExpired))

	e.clock.Set(now.AddDate(0, 0, 61))
	res, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Resolved)

	assert.Empty(t, openAlerts(e.store, domain.AlertExpiringSoon))
	expired := openAlerts(e.store, domain.AlertExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "B001", expired[0].BatchNumber)
	assert.Equal(t, "critical", expired[0].Severity)

	require.Len(t, e.events.resolved, 1)
	assert.Equal(t, domain.AlertExpiringSoon, e.events.resolved[0].AlertType)
}

func TestAlertEngine_ExpiryIsJudgedByTimeOfDay(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "SAME-DAY", 0)
	e.batch(t, item.ID, "AM", 5, now.Add(-2*time.Hour))
	e.batch(t, item.ID, "PM", 5, now.Add(2*time.Hour))

	_, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)

	expired := openAlerts(e.store, domain.AlertExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "AM", expired[0].BatchNumber)
	soon := openAlerts(e.store, domain.AlertExpiringSoon)
	require.Len(t, soon, 1)
	assert.Equal(t, "PM", soon[0].BatchNumber)

	e.clock.Set(now.Add(3 * time.Hour))
	res, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Resolved)
	assert.Empty(t, openAlerts(e.store, domain.AlertExpiringSoon))
	assert.Len(t, openAlerts(e.store, domain.AlertExpired), 2)
}

func TestAlertEngine_ResolvesClearedConditions(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "CLEAR", 10)
	b := e.batch(t, item.ID, "C1", 4, day(5))

	_, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	require.Len(t, openAlerts(e.store, domain.AlertLowStock), 1)
	require.Len(t, openAlerts(e.store, domain.AlertExpiringSoon), 1)

	e.batch(t, item.ID, "C2", 50, day(300))
	_, err = e.ledger.Adjust(e.ctx, b.ID, service.AdjustInput{Delta: -4, Reason: "returned to supplier"})
	require.NoError(t, err)

	res, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Resolved)
	assert.Empty(t, e.store.OpenAlerts())
}

func TestAlertEngine_DeactivatedItemAlertsAreSwept(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "GONE", 10)

	_, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	require.Len(t, openAlerts(e.store, domain.AlertLowStock), 1)

	_, err = e.catalog.DeactivateItem(e.ctx, item.ID)
	require.NoError(t, err)

	res, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Empty(t, e.store.OpenAlerts())
}

func TestAlertEngine_ItemFailureDoesNotStopScan(t *testing.T) {
	e := newEnv(t)
	broken := e.item(t, "BROKEN", 10)
	healthy := e.item(t, "HEALTHY", 10)
	e.store.FailOn("Alerts.EnsureOpen", broken.ID, stderrors.New("connection reset"))

	res, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Created)

	low := openAlerts(e.store, domain.AlertLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, healthy.ID, low[0].ItemID)
}

func TestAlertEngine_ListAndMarkRead(t *testing.T) {
	e := newEnv(t)
	first := e.item(t, "FIRST", 10)
	e.batch(t, first.ID, "F1", 1, day(400))
	_, err := e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)

	second := e.item(t, "SECOND", 10)
	e.batch(t, second.ID, "S1", 1, day(3))
	_, err = e.alerts.Evaluate(e.ctx)
	require.NoError(t, err)

	list, total, err := e.alerts.ListAlerts(e.ctx, repository.AlertFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.NotEqual(t, first.ID, list[0].ItemID, "newest first")
	require.NotNil(t, list[0].ItemName)

	soon, _, err := e.alerts.ListAlerts(e.ctx, repository.AlertFilter{Type: domain.AlertExpiringSoon})
	require.NoError(t, err)
	require.Len(t, soon, 1)

	read, err := e.alerts.MarkRead(e.ctx, soon[0].ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadBy)
	assert.Equal(t, testutil.TestUserID, *read.ReadBy)
	assert.False(t, read.IsResolved)

	all, total, err := e.alerts.ListAlerts(e.ctx, repository.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3, "a read alert stays listed until resolved")
	assert.EqualValues(t, 3, total)

	unreadOnly := false
	unread, _, err := e.alerts.ListAlerts(e.ctx, repository.AlertFilter{IsRead: &unreadOnly})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	readOnly := true
	onlyRead, _, err := e.alerts.ListAlerts(e.ctx, repository.AlertFilter{IsRead: &readOnly})
	require.NoError(t, err)
	require.Len(t, onlyRead, 1)
	assert.Equal(t, soon[0].ID, onlyRead[0].ID)

	_, _, err = e.alerts.ListAlerts(e.ctx, repository.AlertFilter{Type: "recall"})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = e.alerts.MarkRead(e.ctx, "00000000-0000-0000-0000-000000000404")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

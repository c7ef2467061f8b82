package service_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/domain"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunAlertCycle(t *testing.T) {
	e := newEnv(t)
	e.item(t, "SCHED", 10)

	s, err := service.NewScheduler(e.deps, e.alerts, e.orders)
	require.NoError(t, err)

	results, err := s.RunAlertCycle(context.Background())
	require.NoError(t, err)
	require.Contains(t, results, testutil.TestTenantID)
	assert.Equal(t, 1, results[testutil.TestTenantID].Created)

	results, err = s.RunAlertCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, results[testutil.TestTenantID].Created)
}

func TestScheduler_RunEmailRetryCycle(t *testing.T) {
	e := newEnv(t)
	item := e.item(t, "MAIL", 1)
	po := e.order(t, line(item.ID, 1, 1))

	e.notifier.fail(stderrors.New("relay down"))
	_, err := e.orders.SendToSupplier(e.ctx, po.ID)
	require.NoError(t, err)
	e.notifier.fail(nil)

	s, err := service.NewScheduler(e.deps, e.alerts, e.orders)
	require.NoError(t, err)

	sent, err := s.RunEmailRetryCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, e.store.Order(po.ID).EmailSent)
}

func TestScheduler_StartRunsAlertsImmediately(t *testing.T) {
	e := newEnv(t, func(d *service.Deps) {
		d.Config.AlertScanInterval = time.Hour
		d.Config.EmailRetryInterval = time.Hour
	})
	e.item(t, "EAGER", 10)

	s, err := service.NewScheduler(e.deps, e.alerts, e.orders)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	require.Eventually(t, func() bool {
		return len(openAlerts(e.store, domain.AlertLowStock)) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

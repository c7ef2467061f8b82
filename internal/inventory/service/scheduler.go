package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clinicflow/clinic-inventory/pkg/actor"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs the periodic inventory jobs for every active tenant.
type Scheduler struct {
	scheduler gocron.Scheduler
	tenants   TenantStore
	alerts    *AlertEngine
	orders    *PurchaseOrderService
	cfg       Deps
	logger    *logger.Logger

	mu   sync.Mutex
	jobs map[string]gocron.Job
}

// NewScheduler creates the job scheduler. Jobs are registered by Start.
func NewScheduler(deps Deps, alerts *AlertEngine, orders *PurchaseOrderService) (*Scheduler, error) {
	deps = deps.withDefaults()

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		tenants:   deps.Tenants,
		alerts:    alerts,
		orders:    orders,
		cfg:       deps,
		logger:    deps.Logger.WithComponent("scheduler"),
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// Start registers the alert evaluation and email retry jobs and starts the
// scheduler. Alert evaluation runs once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	alertInterval := s.cfg.Config.AlertScanInterval
	if alertInterval <= 0 {
		alertInterval = 5 * time.Minute
	}
	retryInterval := s.cfg.Config.EmailRetryInterval
	if retryInterval <= 0 {
		retryInterval = 10 * time.Minute
	}

	if err := s.add("inventory-alerts", alertInterval, true, func() {
		if _, err := s.RunAlertCycle(ctx); err != nil {
			s.logger.Error().Err(err).Msg("alert cycle failed")
		}
	}); err != nil {
		return err
	}

	if err := s.add("purchase-order-email-retry", retryInterval, false, func() {
		if _, err := s.RunEmailRetryCycle(ctx); err != nil {
			s.logger.Error().Err(err).Msg("email retry cycle failed")
		}
	}); err != nil {
		return err
	}

	s.scheduler.Start()
	s.logger.Info().
		Dur("alert_scan_interval", alertInterval).
		Dur("email_retry_interval", retryInterval).
		Msg("scheduler started")
	return nil
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.logger.Info().Msg("stopping scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) add(name string, interval time.Duration, immediate bool, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	job, err := s.scheduler.NewJob(gocron.DurationJob(interval), gocron.NewTask(task), opts...)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}
	s.jobs[name] = job
	return nil
}

// RunAlertCycle evaluates alerts for every active tenant. A failing tenant is
// logged and skipped.
func (s *Scheduler) RunAlertCycle(ctx context.Context) (map[string]*EvaluationResult, error) {
	results := make(map[string]*EvaluationResult)
	err := s.forEachTenant(ctx, func(ctx context.Context, tenantID string) error {
		result, err := s.alerts.Evaluate(ctx)
		if err != nil {
			return err
		}
		results[tenantID] = result
		return nil
	})
	return results, err
}

// RunEmailRetryCycle re-sends pending purchase order emails for every active
// tenant and returns how many were delivered.
func (s *Scheduler) RunEmailRetryCycle(ctx context.Context) (int, error) {
	sent := 0
	err := s.forEachTenant(ctx, func(ctx context.Context, _ string) error {
		n, err := s.orders.RetryPendingEmails(ctx)
		sent += n
		return err
	})
	return sent, err
}

func (s *Scheduler) forEachTenant(ctx context.Context, fn func(ctx context.Context, tenantID string) error) error {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	base := actor.WithActor(ctx, actor.SystemActor())
	for _, t := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tctx := tenant.WithTenantID(base, t.ID)
		if err := fn(tctx, t.ID); err != nil {
			s.logger.Error().Err(err).Str("tenant_id", t.ID).Msg("tenant job failed")
		}
	}
	return nil
}

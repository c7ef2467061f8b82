package main

import (
	"context"
	"fmt"

	"github.com/clinicflow/clinic-inventory/internal/inventory/events"
	"github.com/clinicflow/clinic-inventory/internal/inventory/handler"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/cache"
	"github.com/clinicflow/clinic-inventory/pkg/config"
	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/messaging"
)

const serviceName = "inventory-service"

// app holds the connections and services shared by every command.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *database.DB
	rmq   *messaging.RabbitMQ
	cache *cache.RedisCache

	deps     service.Deps
	services handler.Services
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db}
	a.deps = service.Deps{
		Stores: service.NewStores(db),
		Config: cfg.Inventory,
		Logger: log,
	}

	if cfg.RabbitMQ.Enabled {
		if err := a.connectBroker(); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("RabbitMQ disabled, inventory events and supplier emails are not published")
	}

	if cfg.Redis.Enabled {
		rc, err := cache.New(ctx, &cfg.Redis, serviceName)
		if err != nil {
			// The report cache is optional; reports are computed on every request.
			log.Warn().Err(err).Msg("failed to connect to Redis, report cache disabled")
		} else {
			a.cache = rc
			a.deps.Cache = rc
		}
	}

	ledger := service.NewLedgerService(a.deps)
	a.services = handler.Services{
		Catalog:   service.NewCatalogService(a.deps),
		Ledger:    ledger,
		Orders:    service.NewPurchaseOrderService(a.deps),
		Receipts:  service.NewGoodsReceiptService(a.deps, ledger),
		Alerts:    service.NewAlertEngine(a.deps),
		Valuation: service.NewValuationReporter(a.deps),
	}
	return a, nil
}

func (a *app) connectBroker() error {
	rmq, err := messaging.New(&a.cfg.RabbitMQ, a.log)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	a.rmq = rmq

	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		return err
	}

	publisher, err := events.NewInventoryEventPublisher(rmq, a.log)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	notifier, err := events.NewSupplierNotifier(rmq, a.log)
	if err != nil {
		return fmt.Errorf("failed to create supplier notifier: %w", err)
	}

	a.deps.Events = publisher
	a.deps.Notifier = notifier
	return nil
}

// health reports the status of every dependency and whether the service can
// serve requests.
func (a *app) health(ctx context.Context) (map[string]interface{}, bool) {
	dbHealth := a.db.Health(ctx)
	status := map[string]interface{}{
		"status":   "healthy",
		"service":  serviceName,
		"database": dbHealth,
	}
	if a.rmq != nil {
		status["rabbitmq"] = a.rmq.Health()
	}
	if a.cache != nil {
		status["redis"] = a.cache.Health(ctx)
	}

	healthy := dbHealth["status"] == "up"
	if !healthy {
		status["status"] = "unhealthy"
	}
	return status, healthy
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close Redis")
		}
	}
	if a.rmq != nil {
		if err := a.rmq.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close RabbitMQ")
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close database")
	}
}

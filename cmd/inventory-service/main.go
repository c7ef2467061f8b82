package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/clinicflow/clinic-inventory/internal/inventory/consumers"
	"github.com/clinicflow/clinic-inventory/internal/inventory/handler"
	"github.com/clinicflow/clinic-inventory/internal/inventory/repository"
	"github.com/clinicflow/clinic-inventory/internal/inventory/service"
	"github.com/clinicflow/clinic-inventory/pkg/actor"
	"github.com/clinicflow/clinic-inventory/pkg/auth"
	"github.com/clinicflow/clinic-inventory/pkg/config"
	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/clinicflow/clinic-inventory/pkg/httputil"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Clinic inventory service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(alertsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and creates the logger every command uses.
func setup() (*config.Config, *logger.Logger, error) {
	// Fails fast in production if required config is missing
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, logger.New(serviceName, cfg.Server.Environment), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, scheduler and event consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			return runServer(cfg, log)
		},
	}
}

func runServer(cfg *config.Config, log *logger.Logger) error {
	log.Info().Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.rmq != nil {
		dispensing, err := consumers.NewDispensingEventConsumer(a.rmq, a.services.Ledger, log.WithComponent("dispensing-consumer"))
		if err != nil {
			return fmt.Errorf("failed to create dispensing consumer: %w", err)
		}
		if err := dispensing.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dispensing consumer: %w", err)
		}
	}

	scheduler, err := service.NewScheduler(a.deps, a.services.Alerts, a.services.Orders)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("shutting down server")

	// Stops consumers
	cancel()

	if err := scheduler.Stop(); err != nil {
		log.Warn().Err(err).Msg("scheduler did not stop cleanly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(a.log))
	r.Use(httputil.Recoverer(a.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, healthy := a.health(r.Context())
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httputil.JSON(w, code, status)
	})

	r.Group(func(r chi.Router) {
		if a.cfg.Server.TrustGatewayHeaders {
			r.Use(httputil.TenantMiddleware)
		} else {
			r.Use(auth.NewManager(&a.cfg.JWT).Middleware)
		}
		r.Use(middleware.Timeout(60 * time.Second))

		r.Mount("/api/v1/inventory", handler.Routes(a.services, a.log))
	})

	return r
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			db, err := database.New(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(cmd.Context(), repository.Migrations())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", len(applied))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			db, err := database.New(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			migrations := repository.Migrations()
			status, err := db.MigrationStatus(cmd.Context(), migrations)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %s\n", "VERSION", "NAME", "STATUS")
			for _, m := range migrations {
				state := "pending"
				if status[m.Version] {
					state = "applied"
				}
				fmt.Printf("%-10d %-40s %s\n", m.Version, m.Name, state)
			}
			return nil
		},
	})

	return cmd
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inventory alert maintenance",
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate stock alerts once, for one tenant or all active tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")

			cfg, log, err := setup()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if tenantID != "" {
				ctx := tenant.WithTenantID(cmd.Context(), tenantID)
				ctx = actor.WithActor(ctx, actor.SystemActor())
				result, err := a.services.Alerts.Evaluate(ctx)
				if err != nil {
					return err
				}
				printScan(tenantID, result)
				return nil
			}

			scheduler, err := service.NewScheduler(a.deps, a.services.Alerts, a.services.Orders)
			if err != nil {
				return err
			}
			results, err := scheduler.RunAlertCycle(cmd.Context())
			if err != nil {
				return err
			}

			tenants := make([]string, 0, len(results))
			for id := range results {
				tenants = append(tenants, id)
			}
			sort.Strings(tenants)
			for _, id := range tenants {
				printScan(id, results[id])
			}
			return nil
		},
	}
	scanCmd.Flags().String("tenant", "", "Only evaluate this tenant")
	cmd.AddCommand(scanCmd)

	return cmd
}

func printScan(tenantID string, r *service.EvaluationResult) {
	fmt.Printf("%s created=%d resolved=%d failed=%d\n", tenantID, r.Created, r.Resolved, r.Failed)
}

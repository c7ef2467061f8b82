package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/clinicflow/clinic-inventory/pkg/logger"
	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	appRole     = "clinic_app"
	appPassword = "clinic_app"
)

var (
	globalContainer *PostgresContainer
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a real PostgreSQL for repository tests.
//
// Migrations run as the container superuser. DB connects as a non-superuser
// role so row-level security applies exactly as in production.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() { os.Exit(m.Run()) }
//	    ctx := context.Background()
//	    s, err := testutil.NewIntegrationSuite(ctx, repository.Migrations())
//	    if err != nil { log.Fatal(err) }
//	    suite = s
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
type IntegrationSuite struct {
	Container *PostgresContainer
	AdminDB   *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the container and applies migrations.
func NewIntegrationSuite(ctx context.Context, migrations []database.Migration) (*IntegrationSuite, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
	})
	if containerErr != nil {
		return nil, containerErr
	}

	log := logger.New("inventory-test", "test")

	admin, err := database.NewWithDSN(globalContainer.DSN, log)
	if err != nil {
		return nil, err
	}
	if _, err := admin.Migrate(ctx, migrations); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	grants := []string{
		fmt.Sprintf(`DO $$ BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
				CREATE ROLE %s LOGIN PASSWORD '%s';
			END IF;
		END $$`, appRole, appRole, appPassword),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", appRole),
	}
	for _, stmt := range grants {
		if _, err := admin.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare app role: %w", err)
		}
	}

	dsn, err := globalContainer.DSNFor(appRole, appPassword)
	if err != nil {
		return nil, err
	}
	app, err := database.NewWithDSN(dsn, log)
	if err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: globalContainer,
		AdminDB:   admin.DB,
		DB:        app,
		Logger:    log,
	}, nil
}

// CreateTenant registers a tenant and returns a context scoped to it.
func (s *IntegrationSuite) CreateTenant(t *testing.T, ctx context.Context, name string) context.Context {
	t.Helper()

	id := uuid.New().String()
	if _, err := s.AdminDB.ExecContext(ctx,
		"INSERT INTO tenants (id, name, is_active) VALUES ($1, $2, true)", id, name); err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}

	return tenant.WithTenantID(ctx, id)
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		_ = globalContainer.Terminate(ctx)
	}
}

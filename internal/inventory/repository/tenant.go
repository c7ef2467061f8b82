package repository

import (
	"context"
	"time"

	"github.com/clinicflow/clinic-inventory/pkg/database"
)

// Tenant is a clinic whose inventory this service manages.
type Tenant struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TenantRepository reads the tenant registry. The registry is not tenant
// scoped, so it queries the pool directly.
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// ListActive lists active tenants
func (r *TenantRepository) ListActive(ctx context.Context) ([]*Tenant, error) {
	tenants := []*Tenant{}
	query := `SELECT id, name, is_active, created_at FROM tenants WHERE is_active = true ORDER BY name`
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, err
	}
	return tenants, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicflow/clinic-inventory/pkg/tenant"
	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Queryer is the query surface shared by *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// WithTenantRLS runs fn inside a transaction scoped to tenantID.
//
// The tenant is set with set_config(..., true), which is transaction-local, so
// the RLS policies
//
//	USING (tenant_id = current_setting('app.current_tenant')::uuid)
//
// filter every statement issued through Conn(ctx). When ctx already carries a
// transaction, fn joins it, so a service can group several repository calls
// into one atomic unit.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	if getTx(ctx) != nil {
		return fn(ctx)
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID); err != nil {
			return fmt.Errorf("failed to set app.current_tenant: %w", err)
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// WithinTenant runs fn in a tenant transaction using the tenant carried by ctx.
func (db *DB) WithinTenant(ctx context.Context, fn func(context.Context) error) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	return db.WithTenantRLS(ctx, tenantID, fn)
}

// RunInTenant is WithinTenant handing fn the connection to query with.
func (db *DB) RunInTenant(ctx context.Context, fn func(context.Context, Queryer) error) error {
	return db.WithinTenant(ctx, func(ctx context.Context) error {
		return fn(ctx, db.Conn(ctx))
	})
}

// Conn returns the transaction carried by ctx, or the pool.
func (db *DB) Conn(ctx context.Context) Queryer {
	if tx := getTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// InTransaction reports whether ctx carries a tenant transaction.
func InTransaction(ctx context.Context) bool {
	return getTx(ctx) != nil
}

func getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

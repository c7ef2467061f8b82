package repository

import (
	"fmt"

	"github.com/clinicflow/clinic-inventory/pkg/database"
)

const currentTenant = "NULLIF(current_setting('app.current_tenant', true), '')::uuid"

// tenantTables are isolated by row-level security on tenant_id.
var tenantTables = []string{
	"inventory_categories",
	"inventory_items",
	"stock_batches",
	"stock_movements",
	"purchase_orders",
	"purchase_order_lines",
	"goods_receipts",
	"goods_receipt_lines",
	"stock_alerts",
}

// Migrations returns the inventory schema in apply order.
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version: 1,
			Name:    "catalog_and_ledger",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS tenants (
					id         UUID PRIMARY KEY,
					name       TEXT NOT NULL,
					is_active  BOOLEAN NOT NULL DEFAULT true,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`,
				`CREATE TABLE IF NOT EXISTS inventory_categories (
					id          UUID PRIMARY KEY,
					tenant_id   UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					name        TEXT NOT NULL,
					description TEXT,
					created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
					CONSTRAINT inventory_categories_category_name_key UNIQUE (tenant_id, name)
				)`,
				`CREATE TABLE IF NOT EXISTS inventory_items (
					id                    UUID PRIMARY KEY,
					tenant_id             UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					sku                   TEXT NOT NULL,
					barcode               TEXT,
					name                  TEXT NOT NULL,
					description           TEXT,
					category_id           UUID REFERENCES inventory_categories(id),
					unit                  TEXT NOT NULL,
					prescription_required BOOLEAN NOT NULL DEFAULT false,
					purchase_price        NUMERIC(12,2) NOT NULL DEFAULT 0,
					sale_price            NUMERIC(12,2) NOT NULL DEFAULT 0,
					mrp                   NUMERIC(12,2) NOT NULL DEFAULT 0,
					minimum_stock         INT NOT NULL DEFAULT 0,
					reorder_point         INT NOT NULL DEFAULT 0,
					is_active             BOOLEAN NOT NULL DEFAULT true,
					created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
					CONSTRAINT inventory_items_sku_key UNIQUE (tenant_id, sku),
					CONSTRAINT inventory_items_price_non_negative
						CHECK (purchase_price >= 0 AND sale_price >= 0 AND mrp >= 0),
					CONSTRAINT inventory_items_threshold_quantity_non_negative
						CHECK (minimum_stock >= 0 AND reorder_point >= 0)
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS inventory_items_barcode_key
					ON inventory_items (tenant_id, barcode) WHERE barcode IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS inventory_items_category_idx ON inventory_items (category_id)`,
				`CREATE TABLE IF NOT EXISTS stock_batches (
					id                 UUID PRIMARY KEY,
					tenant_id          UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					item_id            UUID NOT NULL REFERENCES inventory_items(id),
					batch_number       TEXT NOT NULL,
					quantity_available INT NOT NULL,
					initial_quantity   INT NOT NULL,
					location           TEXT NOT NULL,
					expiry_date        TIMESTAMPTZ NOT NULL,
					manufacture_date   DATE,
					supplier_id        TEXT,
					purchase_price     NUMERIC(12,2) NOT NULL DEFAULT 0,
					received_date      DATE NOT NULL,
					goods_receipt_id   UUID,
					deleted_at         TIMESTAMPTZ,
					created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
					CONSTRAINT stock_batches_batch_number_key UNIQUE (item_id, batch_number),
					CONSTRAINT stock_batches_quantity_non_negative
						CHECK (quantity_available >= 0 AND initial_quantity > 0),
					CONSTRAINT stock_batches_price_non_negative CHECK (purchase_price >= 0)
				)`,
				`CREATE INDEX IF NOT EXISTS stock_batches_item_expiry_idx
					ON stock_batches (item_id, expiry_date) WHERE deleted_at IS NULL`,
				`CREATE TABLE IF NOT EXISTS stock_movements (
					id             UUID PRIMARY KEY,
					tenant_id      UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					item_id        UUID NOT NULL REFERENCES inventory_items(id),
					batch_id       UUID NOT NULL REFERENCES stock_batches(id),
					movement_type  TEXT NOT NULL,
					quantity       INT NOT NULL,
					quantity_after INT NOT NULL,
					reference      TEXT,
					reason         TEXT,
					performed_by   TEXT NOT NULL,
					created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
					CONSTRAINT stock_movements_type_valid
						CHECK (movement_type IN ('receipt', 'consumption', 'adjustment')),
					CONSTRAINT stock_movements_quantity_non_negative CHECK (quantity_after >= 0)
				)`,
				`CREATE INDEX IF NOT EXISTS stock_movements_item_idx ON stock_movements (item_id, created_at DESC)`,
			},
		},
		{
			Version: 2,
			Name:    "purchasing",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS purchase_orders (
					id                     UUID PRIMARY KEY,
					tenant_id              UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					po_number              TEXT NOT NULL,
					supplier_id            TEXT NOT NULL,
					order_date             DATE NOT NULL,
					expected_delivery_date DATE,
					status                 TEXT NOT NULL,
					total_amount           NUMERIC(14,2) NOT NULL DEFAULT 0,
					notes                  TEXT,
					email_sent             BOOLEAN NOT NULL DEFAULT false,
					email_requested_at     TIMESTAMPTZ,
					email_sent_at          TIMESTAMPTZ,
					cancelled_at           TIMESTAMPTZ,
					cancel_reason          TEXT,
					created_by             TEXT NOT NULL,
					created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
					CONSTRAINT purchase_orders_po_number_key UNIQUE (tenant_id, po_number),
					CONSTRAINT purchase_orders_status_valid
						CHECK (status IN ('draft', 'ordered', 'partially_received', 'received', 'cancelled')),
					CONSTRAINT purchase_orders_price_non_negative CHECK (total_amount >= 0)
				)`,
				`CREATE INDEX IF NOT EXISTS purchase_orders_status_idx ON purchase_orders (status)`,
				`CREATE TABLE IF NOT EXISTS purchase_order_lines (
					id                UUID PRIMARY KEY,
					tenant_id         UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					purchase_order_id UUID NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
					line_number       INT NOT NULL,
					item_id           UUID NOT NULL REFERENCES inventory_items(id),
					quantity_ordered  INT NOT NULL,
					unit_price        NUMERIC(12,2) NOT NULL,
					line_total        NUMERIC(14,2) NOT NULL,
					received_quantity INT NOT NULL DEFAULT 0,
					CONSTRAINT purchase_order_lines_quantity_non_negative CHECK (quantity_ordered > 0),
					CONSTRAINT purchase_order_lines_price_non_negative CHECK (unit_price >= 0),
					CONSTRAINT purchase_order_lines_received_within_ordered
						CHECK (received_quantity >= 0 AND received_quantity <= quantity_ordered)
				)`,
				`CREATE INDEX IF NOT EXISTS purchase_order_lines_order_idx ON purchase_order_lines (purchase_order_id)`,
				`CREATE INDEX IF NOT EXISTS purchase_order_lines_item_idx ON purchase_order_lines (item_id)`,
				`CREATE TABLE IF NOT EXISTS goods_receipts (
					id                UUID PRIMARY KEY,
					tenant_id         UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					receipt_number    TEXT NOT NULL,
					purchase_order_id UUID NOT NULL REFERENCES purchase_orders(id),
					received_date     DATE NOT NULL,
					received_by       TEXT NOT NULL,
					location          TEXT,
					notes             TEXT,
					total_amount      NUMERIC(14,2) NOT NULL DEFAULT 0,
					created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
					CONSTRAINT goods_receipts_receipt_number_key UNIQUE (tenant_id, receipt_number)
				)`,
				`CREATE TABLE IF NOT EXISTS goods_receipt_lines (
					id                     UUID PRIMARY KEY,
					tenant_id              UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					goods_receipt_id       UUID NOT NULL REFERENCES goods_receipts(id),
					purchase_order_line_id UUID NOT NULL REFERENCES purchase_order_lines(id),
					item_id                UUID NOT NULL REFERENCES inventory_items(id),
					batch_id               UUID NOT NULL REFERENCES stock_batches(id),
					batch_number           TEXT NOT NULL,
					quantity_received      INT NOT NULL,
					expiry_date            TIMESTAMPTZ NOT NULL,
					manufacture_date       DATE,
					unit_price             NUMERIC(12,2) NOT NULL,
					line_total             NUMERIC(14,2) NOT NULL,
					CONSTRAINT goods_receipt_lines_quantity_non_negative CHECK (quantity_received > 0)
				)`,
				`ALTER TABLE stock_batches DROP CONSTRAINT IF EXISTS stock_batches_goods_receipt_fk`,
				`ALTER TABLE stock_batches ADD CONSTRAINT stock_batches_goods_receipt_fk
					FOREIGN KEY (goods_receipt_id) REFERENCES goods_receipts(id) DEFERRABLE INITIALLY DEFERRED`,
				`CREATE OR REPLACE FUNCTION reject_goods_receipt_change() RETURNS trigger AS $$
				BEGIN
					RAISE EXCEPTION 'goods receipts are immutable' USING ERRCODE = 'check_violation',
						CONSTRAINT = 'goods_receipts_immutable';
				END $$ LANGUAGE plpgsql`,
				`DROP TRIGGER IF EXISTS goods_receipts_immutable ON goods_receipts`,
				`CREATE TRIGGER goods_receipts_immutable BEFORE UPDATE OR DELETE ON goods_receipts
					FOR EACH ROW EXECUTE FUNCTION reject_goods_receipt_change()`,
				`DROP TRIGGER IF EXISTS goods_receipt_lines_immutable ON goods_receipt_lines`,
				`CREATE TRIGGER goods_receipt_lines_immutable BEFORE UPDATE OR DELETE ON goods_receipt_lines
					FOR EACH ROW EXECUTE FUNCTION reject_goods_receipt_change()`,
			},
		},
		{
			Version: 3,
			Name:    "stock_alerts",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS stock_alerts (
					id           UUID PRIMARY KEY,
					tenant_id    UUID NOT NULL DEFAULT ` + currentTenant + ` REFERENCES tenants(id),
					alert_type   TEXT NOT NULL,
					item_id      UUID NOT NULL REFERENCES inventory_items(id),
					batch_id     UUID REFERENCES stock_batches(id),
					batch_number TEXT NOT NULL DEFAULT '',
					severity     TEXT NOT NULL,
					message      TEXT NOT NULL,
					is_read      BOOLEAN NOT NULL DEFAULT false,
					read_by      TEXT,
					read_at      TIMESTAMPTZ,
					is_resolved  BOOLEAN NOT NULL DEFAULT false,
					resolved_at  TIMESTAMPTZ,
					created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
					CONSTRAINT stock_alerts_type_valid
						CHECK (alert_type IN ('low_stock', 'expiring_soon', 'expired'))
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS stock_alerts_open_key
					ON stock_alerts (tenant_id, alert_type, item_id, batch_number) WHERE is_resolved = false`,
				`CREATE INDEX IF NOT EXISTS stock_alerts_created_idx ON stock_alerts (created_at DESC)`,
			},
		},
		{
			Version:    4,
			Name:       "tenant_isolation",
			Statements: rlsStatements(),
		},
	}
}

func rlsStatements() []string {
	var stmts []string
	for _, table := range tenantTables {
		stmts = append(stmts,
			fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
			fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", table),
			fmt.Sprintf("DROP POLICY IF EXISTS tenant_isolation ON %s", table),
			fmt.Sprintf(`CREATE POLICY tenant_isolation ON %s
				USING (tenant_id = %s)
				WITH CHECK (tenant_id = %s)`, table, currentTenant, currentTenant),
		)
	}
	return stmts
}

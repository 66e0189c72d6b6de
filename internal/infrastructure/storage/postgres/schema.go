package postgres

import (
	"context"
	"fmt"

	"stockledger/pkg/logger"
)

// Table names of the ledger schema.
const (
	TablePeriods         = "fiscal_periods"
	TableSubPeriods      = "fiscal_sub_periods"
	TableCompanySettings = "company_settings"
	TableMovementLogs    = "reg_stock_movement_logs"
	TableBalances        = "reg_stock_balances"
	TableLatestPointers  = "reg_stock_latest_pointers"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS fiscal_periods (
		id          UUID PRIMARY KEY,
		tenant_id   UUID NOT NULL,
		company_id  UUID NOT NULL,
		fiscal_year INT NOT NULL,
		space_month INT NOT NULL CHECK (space_month BETWEEN 0 AND 11),
		title       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, company_id, fiscal_year)
	)`,
	`CREATE TABLE IF NOT EXISTS fiscal_sub_periods (
		id         UUID PRIMARY KEY,
		period_id  UUID NOT NULL REFERENCES fiscal_periods (id),
		sub_order  INT NOT NULL CHECK (sub_order BETWEEN 1 AND 12),
		title      TEXT NOT NULL DEFAULT '',
		locked     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (period_id, sub_order)
	)`,
	`CREATE TABLE IF NOT EXISTS company_settings (
		tenant_id                      UUID NOT NULL,
		company_id                     UUID NOT NULL,
		definition_inventory_valuation INT NOT NULL,
		updated_at                     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, company_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reg_stock_movement_logs (
		id                        UUID PRIMARY KEY,
		tenant_id                 UUID NOT NULL,
		company_id                UUID NOT NULL,
		document_id               UUID NOT NULL,
		period_id                 UUID NOT NULL REFERENCES fiscal_periods (id),
		sub_period_id             UUID NOT NULL REFERENCES fiscal_sub_periods (id),
		fiscal_year               INT NOT NULL,
		sub_period_order          INT NOT NULL,
		product_id                UUID NOT NULL,
		warehouse_id              UUID NOT NULL,
		direction                 SMALLINT NOT NULL CHECK (direction IN (1, -1)),
		quantity                  NUMERIC NOT NULL CHECK (quantity > 0),
		cost                      NUMERIC NOT NULL DEFAULT 0,
		value                     NUMERIC NOT NULL DEFAULT 0,
		source_id                 TEXT NOT NULL DEFAULT '',
		source_code               TEXT NOT NULL DEFAULT '',
		source_title              TEXT NOT NULL DEFAULT '',
		lot_data                  JSONB,
		log_order                 INT NOT NULL,
		posted_at                 TIMESTAMPTZ NOT NULL,
		valued                    BOOLEAN NOT NULL DEFAULT FALSE,
		valuation_policy          SMALLINT NOT NULL DEFAULT 0,
		current_quantity          NUMERIC NOT NULL DEFAULT 0 CHECK (current_quantity >= 0),
		current_cost              NUMERIC NOT NULL DEFAULT 0,
		current_value             NUMERIC NOT NULL DEFAULT 0,
		periodic_current_quantity NUMERIC NOT NULL DEFAULT 0 CHECK (periodic_current_quantity >= 0),
		periodic_current_cost     NUMERIC NOT NULL DEFAULT 0,
		periodic_current_value    NUMERIC NOT NULL DEFAULT 0,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, document_id, log_order)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movement_logs_key
		ON reg_stock_movement_logs (tenant_id, product_id, warehouse_id, posted_at, log_order)`,
	`CREATE TABLE IF NOT EXISTS reg_stock_balances (
		id                       UUID PRIMARY KEY,
		tenant_id                UUID NOT NULL,
		company_id               UUID NOT NULL,
		product_id               UUID NOT NULL,
		warehouse_id             UUID NOT NULL,
		period_id                UUID NOT NULL REFERENCES fiscal_periods (id),
		sub_period_id            UUID NOT NULL REFERENCES fiscal_sub_periods (id),
		fiscal_year              INT NOT NULL,
		sub_period_order         INT NOT NULL,
		opening_quantity         NUMERIC NOT NULL DEFAULT 0,
		opening_cost             NUMERIC NOT NULL DEFAULT 0,
		opening_value            NUMERIC NOT NULL DEFAULT 0,
		ending_quantity          NUMERIC NOT NULL DEFAULT 0 CHECK (ending_quantity >= 0),
		ending_cost              NUMERIC NOT NULL DEFAULT 0,
		ending_value             NUMERIC NOT NULL DEFAULT 0,
		sum_input_quantity       NUMERIC NOT NULL DEFAULT 0,
		sum_input_value          NUMERIC NOT NULL DEFAULT 0,
		sum_output_quantity      NUMERIC NOT NULL DEFAULT 0,
		periodic_ending_quantity NUMERIC NOT NULL DEFAULT 0 CHECK (periodic_ending_quantity >= 0),
		periodic_ending_cost     NUMERIC NOT NULL DEFAULT 0,
		periodic_ending_value    NUMERIC NOT NULL DEFAULT 0,
		closed                   BOOLEAN NOT NULL DEFAULT FALSE,
		closed_at                TIMESTAMPTZ,
		latest_log_id            UUID NOT NULL,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, product_id, warehouse_id, period_id, sub_period_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_balances_open
		ON reg_stock_balances (tenant_id, period_id, sub_period_id) WHERE NOT closed`,
	`CREATE TABLE IF NOT EXISTS reg_stock_latest_pointers (
		tenant_id    UUID NOT NULL,
		product_id   UUID NOT NULL,
		warehouse_id UUID NOT NULL,
		log_id       UUID NOT NULL REFERENCES reg_stock_movement_logs (id),
		balance_id   UUID NOT NULL REFERENCES reg_stock_balances (id),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, product_id, warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sys_outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   UUID NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INT NOT NULL DEFAULT 0,
		last_error     TEXT,
		next_retry_at  TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		published_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON sys_outbox (created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS sys_outbox_dlq (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   UUID NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		retry_count    INT NOT NULL,
		last_error     TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		failed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sys_audit (
		id                 UUID PRIMARY KEY,
		entity_type        TEXT NOT NULL,
		entity_id          UUID NOT NULL,
		action             TEXT NOT NULL,
		changes            JSONB,
		changes_compressed BYTEA,
		compression_algo   TEXT NOT NULL DEFAULT 'none',
		metadata           JSONB,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON sys_audit (entity_type, entity_id, created_at DESC)`,
}

// Migrate creates the ledger schema. It is idempotent.
func Migrate(ctx context.Context, pool *Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	logger.Info(ctx, "ledger schema ready", "statements", len(schema))
	return nil
}

package fiscal_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/id"
)

func TestSettingsUpsertQuery(t *testing.T) {
	repo := NewSettingsRepo(nil)
	tenant, company := id.New(), id.New()
	now := time.Now().UTC()

	sql, args, err := repo.upsertQuery(tenant, company, 1, now).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "INSERT INTO company_settings (tenant_id,company_id,definition_inventory_valuation,updated_at)")
	assert.Contains(t, sql, "VALUES ($1,$2,$3,$4)")
	assert.Contains(t, sql, "ON CONFLICT (tenant_id, company_id) DO UPDATE SET")
	assert.Equal(t, []any{tenant, company, 1, now}, args)
}

func TestCalendarColumns(t *testing.T) {
	assert.Equal(t, []string{"id", "tenant_id", "company_id", "fiscal_year", "space_month", "title", "created_at"}, periodColumns)
	assert.Equal(t, []string{"id", "period_id", "sub_order", "title", "locked", "created_at"}, subPeriodColumns)
}

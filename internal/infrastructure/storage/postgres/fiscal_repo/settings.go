package fiscal_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/registers/valuation"
	"stockledger/internal/infrastructure/storage/postgres"
)

// SettingsRepo stores per-company ledger settings.
type SettingsRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

var _ valuation.PolicySource = (*SettingsRepo)(nil)

// NewSettingsRepo creates a new company settings repository.
func NewSettingsRepo(txManager *postgres.TxManager) *SettingsRepo {
	return &SettingsRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// ValuationSetting returns the raw definition_inventory_valuation of a company.
func (r *SettingsRepo) ValuationSetting(ctx context.Context, tenantID, companyID id.ID) (int, error) {
	sql, args, err := r.builder.Select("definition_inventory_valuation").
		From(postgres.TableCompanySettings).
		Where(squirrel.Eq{"tenant_id": tenantID, "company_id": companyID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var setting int
	if err := pgxscan.Get(ctx, r.txManager.Querier(ctx), &setting, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return 0, apperror.NewNotFound("CompanySetting", companyID)
		}
		return 0, fmt.Errorf("get valuation setting: %w", err)
	}
	return setting, nil
}

// SetValuationSetting stores the raw valuation setting of a company.
func (r *SettingsRepo) SetValuationSetting(ctx context.Context, tenantID, companyID id.ID, setting int) error {
	sql, args, err := r.upsertQuery(tenantID, companyID, setting, time.Now().UTC()).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txManager.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("set valuation setting: %w", err)
	}
	return nil
}

func (r *SettingsRepo) upsertQuery(tenantID, companyID id.ID, setting int, now time.Time) squirrel.InsertBuilder {
	return r.builder.Insert(postgres.TableCompanySettings).
		Columns("tenant_id", "company_id", "definition_inventory_valuation", "updated_at").
		Values(tenantID, companyID, setting, now).
		Suffix("ON CONFLICT (tenant_id, company_id) DO UPDATE SET " +
			"definition_inventory_valuation = EXCLUDED.definition_inventory_valuation, " +
			"updated_at = EXCLUDED.updated_at")
}

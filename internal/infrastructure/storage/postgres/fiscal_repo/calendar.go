// Package fiscal_repo provides PostgreSQL storage of the fiscal calendar and
// of company ledger settings.
package fiscal_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/fiscal"
	"stockledger/internal/infrastructure/storage/postgres"
)

var (
	periodColumns    = postgres.Columns[entity.Period]()
	subPeriodColumns = postgres.Columns[entity.SubPeriod]()
)

// CalendarRepo implements fiscal.Repository.
type CalendarRepo struct {
	txManager *postgres.TxManager
	batch     *postgres.BatchInserter
	builder   squirrel.StatementBuilderType
}

var _ fiscal.Repository = (*CalendarRepo)(nil)

// NewCalendarRepo creates a new fiscal calendar repository.
func NewCalendarRepo(txManager *postgres.TxManager) *CalendarRepo {
	return &CalendarRepo{
		txManager: txManager,
		batch:     postgres.NewBatchInserter(txManager),
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetPeriod returns the Period of a company for a fiscal year.
func (r *CalendarRepo) GetPeriod(ctx context.Context, tenantID, companyID id.ID, fiscalYear int) (*entity.Period, error) {
	sql, args, err := r.builder.Select(periodColumns...).
		From(postgres.TablePeriods).
		Where(squirrel.Eq{"tenant_id": tenantID, "company_id": companyID, "fiscal_year": fiscalYear}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var p entity.Period
	if err := pgxscan.Get(ctx, r.txManager.Querier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("Period", fiscalYear)
		}
		return nil, fmt.Errorf("get period: %w", err)
	}
	return &p, nil
}

// GetSubPeriod returns the SubPeriod with the given ordinal.
func (r *CalendarRepo) GetSubPeriod(ctx context.Context, periodID id.ID, order int) (*entity.SubPeriod, error) {
	sql, args, err := r.builder.Select(subPeriodColumns...).
		From(postgres.TableSubPeriods).
		Where(squirrel.Eq{"period_id": periodID, "sub_order": order}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var sp entity.SubPeriod
	if err := pgxscan.Get(ctx, r.txManager.Querier(ctx), &sp, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("SubPeriod", order)
		}
		return nil, fmt.Errorf("get sub-period: %w", err)
	}
	return &sp, nil
}

// CreatePeriod stores a Period and its SubPeriods in one transaction.
func (r *CalendarRepo) CreatePeriod(ctx context.Context, period *entity.Period, subPeriods []entity.SubPeriod) error {
	return r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		sql, args, err := r.builder.Insert(postgres.TablePeriods).
			SetMap(postgres.StructToMap(period)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert period: %w", err)
		}
		if _, err := r.txManager.Querier(ctx).Exec(ctx, sql, args...); err != nil {
			if apperror.IsConcurrentModification(postgres.MapError(err)) {
				return apperror.NewValidation("fiscal year already exists").
					WithDetail("fiscal_year", period.FiscalYear)
			}
			return fmt.Errorf("insert period: %w", err)
		}

		rows := make([][]any, 0, len(subPeriods))
		for i := range subPeriods {
			rows = append(rows, postgres.Values(&subPeriods[i], subPeriodColumns))
		}
		if _, err := r.batch.CopyRows(ctx, postgres.TableSubPeriods, subPeriodColumns, rows); err != nil {
			return fmt.Errorf("insert sub-periods: %w", err)
		}
		return nil
	})
}

// SetSubPeriodLocked opens or locks a SubPeriod for posting.
func (r *CalendarRepo) SetSubPeriodLocked(ctx context.Context, subPeriodID id.ID, locked bool) error {
	sql, args, err := r.builder.Update(postgres.TableSubPeriods).
		Set("locked", locked).
		Where(squirrel.Eq{"id": subPeriodID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update sub-period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("SubPeriod", subPeriodID)
	}
	return nil
}

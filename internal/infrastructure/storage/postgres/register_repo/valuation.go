// Package register_repo provides PostgreSQL storage of the valuation register.
package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/registers/valuation"
	"stockledger/internal/infrastructure/storage/postgres"
)

var (
	logColumns     = postgres.Columns[entity.StockMovementLog]()
	balanceColumns = postgres.Columns[entity.ProductWarehouseBalance]()
	pointerColumns = postgres.Columns[entity.LatestPointer]()
)

// Columns fixed at insert time.
var immutableBalanceColumns = []string{
	"id", "tenant_id", "company_id", "product_id", "warehouse_id",
	"period_id", "sub_period_id", "fiscal_year", "sub_period_order", "created_at",
}

// ValuationRepo implements valuation.Repository.
type ValuationRepo struct {
	txManager *postgres.TxManager
	batch     *postgres.BatchInserter
	builder   squirrel.StatementBuilderType
}

var _ valuation.Repository = (*ValuationRepo)(nil)

// NewValuationRepo creates a new valuation register repository.
func NewValuationRepo(txManager *postgres.TxManager) *ValuationRepo {
	return &ValuationRepo{
		txManager: txManager,
		batch:     postgres.NewBatchInserter(txManager),
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// InsertLogs bulk inserts movement rows with COPY inside a transaction and a
// multi-row INSERT otherwise.
func (r *ValuationRepo) InsertLogs(ctx context.Context, rows []*entity.StockMovementLog) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, postgres.Values(row, logColumns))
	}

	if r.txManager.InTransaction(ctx) {
		if _, err := r.batch.CopyRows(ctx, postgres.TableMovementLogs, logColumns, values); err != nil {
			return fmt.Errorf("copy movement logs: %w", err)
		}
		return nil
	}

	q := r.builder.Insert(postgres.TableMovementLogs).Columns(logColumns...)
	for _, v := range values {
		q = q.Values(v...)
	}
	return r.exec(ctx, q, "insert movement logs")
}

// SaveValuation writes the valuation fields of a row that is not valued yet.
func (r *ValuationRepo) SaveValuation(ctx context.Context, row *entity.StockMovementLog) error {
	q := r.saveValuationQuery(row)
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build save valuation: %w", err)
	}

	tag, err := r.txManager.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("save valuation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("StockMovementLog", row.ID)
	}
	return nil
}

func (r *ValuationRepo) saveValuationQuery(row *entity.StockMovementLog) squirrel.UpdateBuilder {
	return r.builder.Update(postgres.TableMovementLogs).
		SetMap(map[string]any{
			"cost":                      row.Cost,
			"value":                     row.Value,
			"valued":                    true,
			"valuation_policy":          row.Policy,
			"current_quantity":          row.CurrentQuantity,
			"current_cost":              row.CurrentCost,
			"current_value":             row.CurrentValue,
			"periodic_current_quantity": row.PeriodicCurrentQuantity,
			"periodic_current_cost":     row.PeriodicCurrentCost,
			"periodic_current_value":    row.PeriodicCurrentValue,
		}).
		Where(squirrel.Eq{"id": row.ID, "valued": false})
}

// GetLog returns a movement row by id.
func (r *ValuationRepo) GetLog(ctx context.Context, logID id.ID) (*entity.StockMovementLog, error) {
	q := r.builder.Select(logColumns...).
		From(postgres.TableMovementLogs).
		Where(squirrel.Eq{"id": logID})

	var row entity.StockMovementLog
	if err := r.get(ctx, q, &row); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("StockMovementLog", logID)
		}
		return nil, fmt.Errorf("get movement log: %w", err)
	}
	return &row, nil
}

// ListLogsByDocument returns the rows of a document ordered by LogOrder.
func (r *ValuationRepo) ListLogsByDocument(ctx context.Context, tenantID, documentID id.ID) ([]*entity.StockMovementLog, error) {
	q := r.builder.Select(logColumns...).
		From(postgres.TableMovementLogs).
		Where(squirrel.Eq{"tenant_id": tenantID, "document_id": documentID}).
		OrderBy("log_order")

	var rows []*entity.StockMovementLog
	if err := r.selectRows(ctx, q, &rows); err != nil {
		return nil, fmt.Errorf("list document logs: %w", err)
	}
	return rows, nil
}

// ListMovements returns movement history of a key ordered by posting date, then LogOrder.
func (r *ValuationRepo) ListMovements(ctx context.Context, key entity.StockKey, filter valuation.MovementFilter) ([]*entity.StockMovementLog, error) {
	var rows []*entity.StockMovementLog
	if err := r.selectRows(ctx, r.movementsQuery(key, filter), &rows); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return rows, nil
}

func (r *ValuationRepo) movementsQuery(key entity.StockKey, filter valuation.MovementFilter) squirrel.SelectBuilder {
	q := r.builder.Select(logColumns...).
		From(postgres.TableMovementLogs).
		Where(keyEq(key))

	if filter.Direction != nil {
		q = q.Where(squirrel.Eq{"direction": *filter.Direction})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"posted_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"posted_at": *filter.ToDate})
	}

	q = q.OrderBy("posted_at", "log_order", "id")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

// GetBalance returns the balance row of a key in a sub-period.
func (r *ValuationRepo) GetBalance(ctx context.Context, key entity.StockKey, periodID, subPeriodID id.ID) (*entity.ProductWarehouseBalance, error) {
	q := r.builder.Select(balanceColumns...).
		From(postgres.TableBalances).
		Where(keyEq(key)).
		Where(squirrel.Eq{"period_id": periodID, "sub_period_id": subPeriodID})

	var b entity.ProductWarehouseBalance
	if err := r.get(ctx, q, &b); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("ProductWarehouseBalance", subPeriodID)
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

// GetBalanceByID returns a balance row by id.
func (r *ValuationRepo) GetBalanceByID(ctx context.Context, balanceID id.ID) (*entity.ProductWarehouseBalance, error) {
	q := r.builder.Select(balanceColumns...).
		From(postgres.TableBalances).
		Where(squirrel.Eq{"id": balanceID})

	var b entity.ProductWarehouseBalance
	if err := r.get(ctx, q, &b); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("ProductWarehouseBalance", balanceID)
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

// InsertBalance creates a balance row. A concurrent insert of the same
// sub-period key fails with a unique violation, mapped to a conflict by the
// transaction manager.
func (r *ValuationRepo) InsertBalance(ctx context.Context, b *entity.ProductWarehouseBalance) error {
	q := r.builder.Insert(postgres.TableBalances).SetMap(postgres.StructToMap(b))
	return r.exec(ctx, q, "insert balance")
}

// UpdateBalance overwrites the mutable columns of a balance row.
func (r *ValuationRepo) UpdateBalance(ctx context.Context, b *entity.ProductWarehouseBalance) error {
	sql, args, err := r.updateBalanceQuery(b).ToSql()
	if err != nil {
		return fmt.Errorf("build update balance: %w", err)
	}
	tag, err := r.txManager.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("ProductWarehouseBalance", b.ID)
	}
	return nil
}

func (r *ValuationRepo) updateBalanceQuery(b *entity.ProductWarehouseBalance) squirrel.UpdateBuilder {
	set := postgres.StructToMap(b)
	for _, col := range immutableBalanceColumns {
		delete(set, col)
	}
	return r.builder.Update(postgres.TableBalances).
		SetMap(set).
		Where(squirrel.Eq{"id": b.ID})
}

// ListOpenBalances returns not yet closed balances of a sub-period, locked
// for update in id order.
func (r *ValuationRepo) ListOpenBalances(ctx context.Context, tenantID, periodID, subPeriodID id.ID) ([]*entity.ProductWarehouseBalance, error) {
	var rows []*entity.ProductWarehouseBalance
	if err := r.selectRows(ctx, r.openBalancesQuery(tenantID, periodID, subPeriodID), &rows); err != nil {
		return nil, fmt.Errorf("list open balances: %w", err)
	}
	return rows, nil
}

func (r *ValuationRepo) openBalancesQuery(tenantID, periodID, subPeriodID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(balanceColumns...).
		From(postgres.TableBalances).
		Where(squirrel.Eq{
			"tenant_id":     tenantID,
			"period_id":     periodID,
			"sub_period_id": subPeriodID,
			"closed":        false,
		}).
		OrderBy("id").
		Suffix("FOR UPDATE")
}

// GetPointer returns the latest pointer of a key.
func (r *ValuationRepo) GetPointer(ctx context.Context, key entity.StockKey) (*entity.LatestPointer, error) {
	q := r.builder.Select(pointerColumns...).
		From(postgres.TableLatestPointers).
		Where(keyEq(key))

	var p entity.LatestPointer
	if err := r.get(ctx, q, &p); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("LatestPointer", key.LockKey())
		}
		return nil, fmt.Errorf("get latest pointer: %w", err)
	}
	return &p, nil
}

// UpsertPointer creates or overwrites the latest pointer of a key.
func (r *ValuationRepo) UpsertPointer(ctx context.Context, p *entity.LatestPointer) error {
	return r.exec(ctx, r.upsertPointerQuery(p), "upsert latest pointer")
}

func (r *ValuationRepo) upsertPointerQuery(p *entity.LatestPointer) squirrel.InsertBuilder {
	return r.builder.Insert(postgres.TableLatestPointers).
		Columns(pointerColumns...).
		Values(postgres.Values(p, pointerColumns)...).
		Suffix("ON CONFLICT (tenant_id, product_id, warehouse_id) DO UPDATE SET " +
			"log_id = EXCLUDED.log_id, balance_id = EXCLUDED.balance_id, updated_at = EXCLUDED.updated_at")
}

func keyEq(key entity.StockKey) squirrel.Eq {
	return squirrel.Eq{
		"tenant_id":    key.TenantID,
		"product_id":   key.ProductID,
		"warehouse_id": key.WarehouseID,
	}
}

func (r *ValuationRepo) get(ctx context.Context, q squirrel.SelectBuilder, dst any) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return pgxscan.Get(ctx, r.txManager.Querier(ctx), dst, sql, args...)
}

func (r *ValuationRepo) selectRows(ctx context.Context, q squirrel.SelectBuilder, dst any) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return pgxscan.Select(ctx, r.txManager.Querier(ctx), dst, sql, args...)
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func (r *ValuationRepo) exec(ctx context.Context, q sqlizer, op string) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	if _, err := r.txManager.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

package register_repo

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/registers/valuation"
)

func testKey() entity.StockKey {
	return entity.StockKey{TenantID: id.New(), ProductID: id.New(), WarehouseID: id.New()}
}

func TestMovementsQuery(t *testing.T) {
	repo := NewValuationRepo(nil)
	key := testKey()

	t.Run("key only", func(t *testing.T) {
		sql, args, err := repo.movementsQuery(key, valuation.MovementFilter{}).ToSql()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(sql, "SELECT id, tenant_id, company_id, document_id"))
		assert.Contains(t, sql, "FROM reg_stock_movement_logs WHERE ")
		assert.Contains(t, sql, "product_id = $1")
		assert.Contains(t, sql, "tenant_id = $2")
		assert.Contains(t, sql, "warehouse_id = $3")
		assert.True(t, strings.HasSuffix(sql, "ORDER BY posted_at, log_order, id"))
		assert.Equal(t, []any{key.ProductID, key.TenantID, key.WarehouseID}, args)
	})

	t.Run("all filters", func(t *testing.T) {
		dir := entity.DirectionOut
		from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 1, 0)

		sql, args, err := repo.movementsQuery(key, valuation.MovementFilter{
			Direction: &dir,
			FromDate:  &from,
			ToDate:    &to,
			Limit:     10,
			Offset:    20,
		}).ToSql()
		require.NoError(t, err)

		assert.Contains(t, sql, "direction = $4")
		assert.Contains(t, sql, "posted_at >= $5")
		assert.Contains(t, sql, "posted_at <= $6")
		assert.Contains(t, sql, "LIMIT 10 OFFSET 20")
		require.Len(t, args, 6)
		assert.Equal(t, dir, args[3])
		assert.Equal(t, from, args[4])
		assert.Equal(t, to, args[5])
	})
}

func TestOpenBalancesQuery_LocksRows(t *testing.T) {
	repo := NewValuationRepo(nil)
	tenant, period, sub := id.New(), id.New(), id.New()

	sql, args, err := repo.openBalancesQuery(tenant, period, sub).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM reg_stock_balances WHERE ")
	assert.Contains(t, sql, "closed = $1")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY id FOR UPDATE"))
	assert.Equal(t, []any{false, period, sub, tenant}, args)
}

func TestSaveValuationQuery_OnlyUnvaluedRows(t *testing.T) {
	repo := NewValuationRepo(nil)

	row := &entity.StockMovementLog{ID: id.New()}
	row.SetSnapshot(entity.PolicyPeriodic, entity.Balance{
		Quantity: types.NewQuantity(3),
		Cost:     types.Zero(),
		Value:    types.Zero(),
	})

	sql, args, err := repo.saveValuationQuery(row).ToSql()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "UPDATE reg_stock_movement_logs SET "))
	assert.Contains(t, sql, "valued = ")
	assert.Contains(t, sql, "periodic_current_quantity = ")
	assert.Contains(t, sql, "WHERE id = $11 AND valued = $12")
	require.Len(t, args, 12)
	assert.Equal(t, row.ID, args[10])
	assert.Equal(t, false, args[11])
}

func TestUpdateBalanceQuery_KeepsIdentityColumns(t *testing.T) {
	repo := NewValuationRepo(nil)

	b := entity.NewProductWarehouseBalance(&entity.StockMovementLog{
		ID:          id.New(),
		TenantID:    id.New(),
		ProductID:   id.New(),
		WarehouseID: id.New(),
	}, entity.ZeroBalance())

	sql, _, err := repo.updateBalanceQuery(b).ToSql()
	require.NoError(t, err)

	set := sql[:strings.Index(sql, " WHERE ")]
	for _, col := range immutableBalanceColumns {
		assert.NotContains(t, set, " "+col+" = ", "column %s must not be updated", col)
	}
	assert.Contains(t, set, "closed = ")
	assert.Contains(t, set, "periodic_ending_value = ")
	assert.True(t, strings.HasSuffix(sql, "WHERE id = $"+strconv.Itoa(len(balanceColumns)-len(immutableBalanceColumns)+1)))
}

func TestUpsertPointerQuery(t *testing.T) {
	repo := NewValuationRepo(nil)
	p := &entity.LatestPointer{
		TenantID:    id.New(),
		ProductID:   id.New(),
		WarehouseID: id.New(),
		LogID:       id.New(),
		BalanceID:   id.New(),
		UpdatedAt:   time.Now().UTC(),
	}

	sql, args, err := repo.upsertPointerQuery(p).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "INSERT INTO reg_stock_latest_pointers (tenant_id,product_id,warehouse_id,log_id,balance_id,updated_at)")
	assert.Contains(t, sql, "ON CONFLICT (tenant_id, product_id, warehouse_id) DO UPDATE SET")
	assert.Equal(t, []any{p.TenantID, p.ProductID, p.WarehouseID, p.LogID, p.BalanceID, p.UpdatedAt}, args)
}

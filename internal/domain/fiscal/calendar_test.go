package fiscal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/fiscal"
	"stockledger/internal/infrastructure/storage/memory"
)

func TestSubPeriodOrder(t *testing.T) {
	tests := []struct {
		name       string
		month      time.Month
		space      int
		wantOffset int
		wantOrder  int
	}{
		{"calendar year january", time.January, 0, 0, 1},
		{"calendar year december", time.December, 0, 0, 12},
		{"april start first month", time.April, 3, 0, 1},
		{"april start december", time.December, 3, 0, 9},
		{"april start january", time.January, 3, -1, 10},
		{"april start march", time.March, 3, -1, 12},
		{"december start december", time.December, 11, 0, 1},
		{"december start november", time.November, 11, -1, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, order := fiscal.SubPeriodOrder(tt.month, tt.space)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantOrder, order)
		})
	}
}

func newCalendar(t *testing.T) (*fiscal.Calendar, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return fiscal.NewCalendar(store), store
}

func TestCalendar_Resolve(t *testing.T) {
	ctx := context.Background()
	tenant, company := id.New(), id.New()

	cal, _ := newCalendar(t)
	_, err := cal.CreateYear(ctx, tenant, company, 2025, 3)
	require.NoError(t, err)

	t.Run("first month of the fiscal year", func(t *testing.T) {
		pos, err := cal.Resolve(ctx, tenant, company, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 2025, pos.Period.FiscalYear)
		assert.Equal(t, 1, pos.SubPeriod.Order)
		assert.Equal(t, "2025/01", pos.String())
	})

	t.Run("month in the following calendar year", func(t *testing.T) {
		pos, err := cal.Resolve(ctx, tenant, company, time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 2025, pos.Period.FiscalYear)
		assert.Equal(t, 11, pos.SubPeriod.Order)
	})

	t.Run("before the first configured year", func(t *testing.T) {
		_, err := cal.Resolve(ctx, tenant, company, time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC))
		require.Error(t, err)
		assert.True(t, apperror.HasCode(err, apperror.CodePeriodNotFound))

		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, 2024, appErr.Details["fiscal_year"])
	})

	t.Run("after the last configured year", func(t *testing.T) {
		_, err := cal.Resolve(ctx, tenant, company, time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC))
		assert.True(t, apperror.HasCode(err, apperror.CodePeriodNotFound))
	})

	t.Run("other company", func(t *testing.T) {
		_, err := cal.Resolve(ctx, tenant, id.New(), time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
		assert.True(t, apperror.HasCode(err, apperror.CodePeriodNotFound))
	})
}

func TestCalendar_ResolveMissingSubPeriod(t *testing.T) {
	ctx := context.Background()
	tenant, company := id.New(), id.New()

	cal, store := newCalendar(t)
	period, err := cal.CreateYear(ctx, tenant, company, 2025, 0)
	require.NoError(t, err)
	store.DeleteSubPeriod(ctx, period.ID, 7)

	_, err = cal.Resolve(ctx, tenant, company, time.Date(2025, time.July, 4, 0, 0, 0, 0, time.UTC))
	assert.True(t, apperror.HasCode(err, apperror.CodeSubPeriodNotFound), "got %v", err)

	_, err = cal.Position(ctx, tenant, company, 2025, 13)
	assert.True(t, apperror.HasCode(err, apperror.CodeSubPeriodNotFound), "got %v", err)
}

func TestCalendar_Previous(t *testing.T) {
	ctx := context.Background()
	tenant, company := id.New(), id.New()

	cal, _ := newCalendar(t)
	_, err := cal.CreateYear(ctx, tenant, company, 2025, 0)
	require.NoError(t, err)

	t.Run("same fiscal year", func(t *testing.T) {
		pos, err := cal.Position(ctx, tenant, company, 2025, 5)
		require.NoError(t, err)

		prev, ok, err := cal.Previous(ctx, pos)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2025, prev.Period.FiscalYear)
		assert.Equal(t, 4, prev.SubPeriod.Order)
	})

	t.Run("first sub-period without prior year", func(t *testing.T) {
		pos, err := cal.Position(ctx, tenant, company, 2025, 1)
		require.NoError(t, err)

		_, ok, err := cal.Previous(ctx, pos)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("first sub-period with prior year", func(t *testing.T) {
		_, err := cal.CreateYear(ctx, tenant, company, 2024, 0)
		require.NoError(t, err)

		pos, err := cal.Position(ctx, tenant, company, 2025, 1)
		require.NoError(t, err)

		prev, ok, err := cal.Previous(ctx, pos)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2024, prev.Period.FiscalYear)
		assert.Equal(t, 12, prev.SubPeriod.Order)
	})
}

func TestCalendar_CreateYear(t *testing.T) {
	ctx := context.Background()
	tenant, company := id.New(), id.New()
	cal, _ := newCalendar(t)

	_, err := cal.CreateYear(ctx, tenant, company, 2025, 12)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	period, err := cal.CreateYear(ctx, tenant, company, 2025, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, period.SpaceMonth)

	for order := 1; order <= 12; order++ {
		pos, err := cal.Position(ctx, tenant, company, 2025, order)
		require.NoError(t, err)
		assert.True(t, pos.SubPeriod.IsOpen())
	}

	_, err = cal.CreateYear(ctx, tenant, company, 2025, 6)
	assert.Error(t, err)
}

func TestCalendar_SetPostingLock(t *testing.T) {
	ctx := context.Background()
	tenant, company := id.New(), id.New()
	cal, _ := newCalendar(t)

	_, err := cal.CreateYear(ctx, tenant, company, 2025, 0)
	require.NoError(t, err)

	pos, err := cal.Position(ctx, tenant, company, 2025, 3)
	require.NoError(t, err)
	require.NoError(t, cal.SetPostingLock(ctx, pos, true))

	pos, err = cal.Position(ctx, tenant, company, 2025, 3)
	require.NoError(t, err)
	assert.False(t, pos.SubPeriod.IsOpen())

	require.NoError(t, cal.SetPostingLock(ctx, pos, false))
	pos, err = cal.Position(ctx, tenant, company, 2025, 3)
	require.NoError(t, err)
	assert.True(t, pos.SubPeriod.IsOpen())
}

package valuation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/event"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/fiscal"
	"stockledger/internal/domain/registers/valuation"
	"stockledger/internal/infrastructure/storage/memory"
)

type fixture struct {
	store    *memory.Store
	locker   *memory.Locker
	calendar *fiscal.Calendar
	ledger   *valuation.Ledger

	tenant    id.ID
	company   id.ID
	product   id.ID
	warehouse id.ID
}

func newFixture(t *testing.T, policy entity.ValuationPolicy) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	locker := memory.NewLocker(50, time.Millisecond)
	calendar := fiscal.NewCalendar(store)

	f := &fixture{
		store:     store,
		locker:    locker,
		calendar:  calendar,
		tenant:    id.New(),
		company:   id.New(),
		product:   id.New(),
		warehouse: id.New(),
	}
	f.ledger = valuation.NewLedger(valuation.LedgerConfig{
		Repo:      store,
		Policies:  store,
		Calendar:  calendar,
		TxManager: store,
		Locker:    locker,
		Publisher: store,
		Auditor:   store,
		Retry:     valuation.RetryConfig{Attempts: 4, Backoff: time.Millisecond},
	})

	_, err := calendar.CreateYear(ctx, f.tenant, f.company, 2025, 0)
	require.NoError(t, err)
	require.NoError(t, store.SetValuationSetting(ctx, f.tenant, f.company, int(policy)))
	return f
}

func (f *fixture) key() entity.StockKey {
	return entity.StockKey{TenantID: f.tenant, ProductID: f.product, WarehouseID: f.warehouse}
}

func (f *fixture) doc(date time.Time) entity.FinalizedDocument {
	return entity.FinalizedDocument{
		ID:           id.New(),
		TenantID:     f.tenant,
		CompanyID:    f.company,
		ApprovalDate: date,
		SourceCode:   "DLV",
		SourceTitle:  "Delivery",
	}
}

func (f *fixture) in(qty, cost string) entity.StockActivity {
	return entity.StockActivity{
		ProductID:   f.product,
		WarehouseID: f.warehouse,
		Direction:   entity.DirectionIn,
		Quantity:    types.MustMoney(qty),
		Cost:        types.MustMoney(cost),
		Source:      entity.SourceRef{ID: id.New().String(), Code: "GR-1", Title: "Goods receipt"},
	}
}

func (f *fixture) out(qty string) entity.StockActivity {
	return entity.StockActivity{
		ProductID:   f.product,
		WarehouseID: f.warehouse,
		Direction:   entity.DirectionOut,
		Quantity:    types.MustMoney(qty),
		Source:      entity.SourceRef{ID: id.New().String(), Code: "DLV-1", Title: "Delivery"},
	}
}

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 10, 0, 0, 0, time.UTC)
}

func bal(q, c, v string) entity.Balance {
	return entity.Balance{Quantity: types.MustMoney(q), Cost: types.MustMoney(c), Value: types.MustMoney(v)}
}

func assertBalance(t *testing.T, want, got entity.Balance) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func eventsOfType(events []event.Event, typ string) []event.Event {
	var matched []event.Event
	for _, e := range events {
		if e.EventType == typ {
			matched = append(matched, e)
		}
	}
	return matched
}

func TestLedger_PerpetualScenario(t *testing.T) {
	f := newFixture(t, entity.PolicyPerpetual)
	ctx := context.Background()

	rows, err := f.ledger.Record(ctx, f.doc(day(time.March, 3)), []entity.StockActivity{
		f.in("10", "100"),
		f.in("10", "200"),
		f.out("5"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assertBalance(t, bal("10", "100", "1000"), rows[0].Perpetual())
	assertBalance(t, bal("20", "150", "3000"), rows[1].Perpetual())
	assertBalance(t, bal("15", "150", "2250"), rows[2].Perpetual())

	// Outflow is costed at the running cost; periodic snapshot stays empty.
	assert.True(t, rows[2].Cost.Equal(types.MustMoney("150")))
	assert.True(t, rows[2].Value.Equal(types.MustMoney("750")))
	for i, r := range rows {
		assert.Equal(t, i+1, r.LogOrder)
		assert.True(t, r.Valued)
		assertBalance(t, entity.ZeroBalance(), r.Periodic())
	}

	cur, err := f.ledger.GetCurrentBalance(ctx, f.key())
	require.NoError(t, err)
	assertBalance(t, bal("15", "150", "2250"), cur.Balance)
	assert.Equal(t, entity.PolicyPerpetual, cur.Policy)
	require.NotNil(t, cur.LogID)
	assert.Equal(t, rows[2].ID, *cur.LogID)

	pb, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 3)
	require.NoError(t, err)
	assertBalance(t, entity.ZeroBalance(), pb.Opening())
	assertBalance(t, bal("15", "150", "2250"), pb.Ending())
	assert.Equal(t, rows[2].ID, pb.LatestLogID)

	stored, err := f.store.GetLog(ctx, rows[1].ID)
	require.NoError(t, err)
	assertBalance(t, bal("20", "150", "3000"), stored.Perpetual())

	valued := eventsOfType(f.store.Events(), event.TypeStockMovementsValued)
	require.Len(t, valued, 1)
	payload, ok := valued[0].Payload.(valuation.StockMovementsValued)
	require.True(t, ok)
	assert.Len(t, payload.Movements, 3)
}

func TestLedger_PerpetualOpeningCarriedAcrossSubPeriods(t *testing.T) {
	f := newFixture(t, entity.PolicyPerpetual)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.doc(day(time.January, 5)), []entity.StockActivity{f.in("10", "100")})
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, f.doc(day(time.February, 5)), []entity.StockActivity{f.in("10", "200")})
	require.NoError(t, err)

	feb, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 2)
	require.NoError(t, err)
	assertBalance(t, bal("10", "100", "1000"), feb.Opening())
	assertBalance(t, bal("20", "150", "3000"), feb.Ending())
}

func TestLedger_FoldFollowsLogOrder(t *testing.T) {
	f := newFixture(t, entity.PolicyPerpetual)
	ctx := context.Background()

	rows, err := f.ledger.Record(ctx, f.doc(day(time.March, 3)), []entity.StockActivity{
		f.in("10", "100"),
		f.out("5"),
		f.in("5", "200"),
	})
	require.NoError(t, err)

	assertBalance(t, bal("10", "100", "1000"), rows[0].Perpetual())
	assertBalance(t, bal("5", "100", "500"), rows[1].Perpetual())
	assertBalance(t, bal("10", "150", "1500"), rows[2].Perpetual())

	history, err := f.ledger.History(ctx, f.key(), valuation.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, r := range history {
		assert.Equal(t, rows[i].ID, r.ID)
	}
}

func TestLedger_NoNegativeBalance(t *testing.T) {
	f := newFixture(t, entity.PolicyPerpetual)
	ctx := context.Background()

	rows, err := f.ledger.Record(ctx, f.doc(day(time.April, 1)), []entity.StockActivity{
		f.in("5", "10"),
		f.out("8"),
		f.out("1"),
	})
	require.NoError(t, err)

	for _, r := range rows {
		assert.False(t, r.CurrentQuantity.IsNegative())
	}
	assertBalance(t, entity.ZeroBalance(), rows[1].Perpetual())
	assertBalance(t, entity.ZeroBalance(), rows[2].Perpetual())
}

func TestLedger_PeriodicScenario(t *testing.T) {
	f := newFixture(t, entity.PolicyPeriodic)
	ctx := context.Background()

	// Sub-period 1 builds the opening {15,150,2250}.
	_, err := f.ledger.Record(ctx, f.doc(day(time.January, 10)), []entity.StockActivity{f.in("15", "150")})
	require.NoError(t, err)

	rows, err := f.ledger.Record(ctx, f.doc(day(time.February, 10)), []entity.StockActivity{
		f.in("10", "300"),
		f.out("5"),
	})
	require.NoError(t, err)

	// First posting into February closed January.
	jan, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 1)
	require.NoError(t, err)
	assert.True(t, jan.Closed)
	assertBalance(t, bal("15", "150", "2250"), jan.PeriodicEnding())

	// Mid-period rows carry no cost.
	for _, r := range rows {
		assert.True(t, r.PeriodicCurrentCost.IsZero())
		assert.True(t, r.PeriodicCurrentValue.IsZero())
		assertBalance(t, entity.ZeroBalance(), r.Perpetual())
	}
	assert.True(t, rows[0].PeriodicCurrentQuantity.Equal(types.MustMoney("25")))
	assert.True(t, rows[1].PeriodicCurrentQuantity.Equal(types.MustMoney("20")))
	assert.True(t, rows[1].Cost.IsZero())

	feb, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 2)
	require.NoError(t, err)
	assertBalance(t, bal("15", "150", "2250"), feb.Opening())
	assert.True(t, feb.SumInputQuantity.Equal(types.MustMoney("10")))
	assert.True(t, feb.SumInputValue.Equal(types.MustMoney("3000")))
	assert.True(t, feb.SumOutputQuantity.Equal(types.MustMoney("5")))
	assert.False(t, feb.Closed)

	closed, err := f.ledger.CloseSubPeriod(ctx, f.tenant, f.company, 2025, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	feb, err = f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 2)
	require.NoError(t, err)
	assert.True(t, feb.Closed)
	assertBalance(t, bal("20", "300", "6000"), feb.PeriodicEnding())

	assert.Len(t, eventsOfType(f.store.Events(), event.TypeSubPeriodClosed), 2)
}

func TestLedger_ReopenAndIdempotentClose(t *testing.T) {
	f := newFixture(t, entity.PolicyPeriodic)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.doc(day(time.January, 10)), []entity.StockActivity{f.in("10", "100")})
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, f.doc(day(time.February, 2)), []entity.StockActivity{f.in("1", "1")})
	require.NoError(t, err)

	jan, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 1)
	require.NoError(t, err)
	require.True(t, jan.Closed)
	assertBalance(t, bal("10", "100", "1000"), jan.PeriodicEnding())

	// Re-closing an untouched closed sub-period changes nothing.
	closed, err := f.ledger.CloseSubPeriod(ctx, f.tenant, f.company, 2025, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
	again, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 1)
	require.NoError(t, err)
	assertBalance(t, jan.PeriodicEnding(), again.PeriodicEnding())

	// Late posting into January reopens it.
	_, err = f.ledger.Record(ctx, f.doc(day(time.January, 28)), []entity.StockActivity{f.in("10", "300")})
	require.NoError(t, err)

	jan, err = f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 1)
	require.NoError(t, err)
	assert.False(t, jan.Closed)
	assert.Nil(t, jan.ClosedAt)
	assert.True(t, jan.PeriodicEndingCost.IsZero())
	assert.True(t, jan.PeriodicEndingValue.IsZero())

	closed, err = f.ledger.CloseSubPeriod(ctx, f.tenant, f.company, 2025, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	jan, err = f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 1)
	require.NoError(t, err)
	assertBalance(t, bal("20", "200", "4000"), jan.PeriodicEnding())

	assert.Len(t, eventsOfType(f.store.Events(), event.TypeBalanceReopened), 1)

	var reopens int
	for _, e := range f.store.AuditEntries() {
		if e.Action == audit.ActionReopen {
			reopens++
			assert.Equal(t, jan.ID, e.EntityID)
		}
	}
	assert.Equal(t, 1, reopens)
}

func TestLedger_PeriodicWithoutPriorYearSkipsClose(t *testing.T) {
	f := newFixture(t, entity.PolicyPeriodic)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.doc(day(time.January, 2)), []entity.StockActivity{f.in("1", "10")})
	require.NoError(t, err)
	assert.Empty(t, eventsOfType(f.store.Events(), event.TypeSubPeriodClosed))
}

func TestLedger_PeriodicCatchUpCloseAcrossGap(t *testing.T) {
	f := newFixture(t, entity.PolicyPeriodic)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, f.doc(day(time.January, 2)), []entity.StockActivity{f.in("4", "25")})
	require.NoError(t, err)

	// March skips February: EnsurePriorClosed closes February (empty), the
	// January balance is closed when it seeds the March opening.
	_, err = f.ledger.Record(ctx, f.doc(day(time.March, 2)), []entity.StockActivity{f.out("1")})
	require.NoError(t, err)

	jan, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 1)
	require.NoError(t, err)
	assert.True(t, jan.Closed)

	mar, err := f.ledger.GetPeriodBalance(ctx, f.key(), f.company, 2025, 3)
	require.NoError(t, err)
	assertBalance(t, bal("4", "25", "100"), mar.Opening())
}

func TestLedger_DocumentRecordedOnce(t *testing.T) {
	f := newFixture(t, entity.PolicyPerpetual)
	ctx := context.Background()

	doc := f.doc(day(time.May, 5))
	events := []entity.StockActivity{f.in("2", "50")}

	first, err := f.ledger.Record(ctx, doc, events)
	require.NoError(t, err)
	second, err := f.ledger.Record(ctx, doc, events)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	cur, err := f.ledger.GetCurrentBalance(ctx, f.key())
	require.NoError(t, err)
	assertBalance(t, bal("2", "50", "100"), cur.Balance)
	assert.Len(t, eventsOfType(f.store.Events(), event.TypeStockMovementsValued), 1)
}

func TestLedger_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("period not found", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPerpetual)
		doc := f.doc(time.Date(2030, time.June, 1, 0, 0, 0, 0, time.UTC))
		_, err := f.ledger.Record(ctx, doc, []entity.StockActivity{f.in("1", "1")})
		assert.True(t, apperror.HasCode(err, apperror.CodePeriodNotFound), "got %v", err)
	})

	t.Run("sub-period not found", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPerpetual)
		pos, err := f.calendar.Position(ctx, f.tenant, f.company, 2025, 1)
		require.NoError(t, err)
		f.store.DeleteSubPeriod(ctx, pos.Period.ID, 6)

		_, err = f.ledger.Record(ctx, f.doc(day(time.June, 1)), []entity.StockActivity{f.in("1", "1")})
		assert.True(t, apperror.HasCode(err, apperror.CodeSubPeriodNotFound), "got %v", err)
	})

	t.Run("invalid valuation policy", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPerpetual)
		require.NoError(t, f.store.SetValuationSetting(ctx, f.tenant, f.company, 2))
		_, err := f.ledger.Record(ctx, f.doc(day(time.June, 1)), []entity.StockActivity{f.in("1", "1")})
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidValuationPolicy), "got %v", err)
	})

	t.Run("sub-period locked for posting", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPerpetual)
		require.NoError(t, f.ledger.SetPostingLock(ctx, f.tenant, f.company, 2025, 6, true))
		_, err := f.ledger.Record(ctx, f.doc(day(time.June, 1)), []entity.StockActivity{f.in("1", "1")})
		assert.True(t, apperror.HasCode(err, apperror.CodePeriodClosed), "got %v", err)
	})

	t.Run("invalid event", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPerpetual)
		bad := f.in("0", "1")
		_, err := f.ledger.Record(ctx, f.doc(day(time.June, 1)), []entity.StockActivity{bad})
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "got %v", err)
	})

	t.Run("failed batch leaves no rows", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPeriodic)
		pos, err := f.calendar.Position(ctx, f.tenant, f.company, 2025, 1)
		require.NoError(t, err)
		f.store.DeleteSubPeriod(ctx, pos.Period.ID, 5)

		// Rows are inserted before closing the prior sub-period fails.
		_, err = f.ledger.Record(ctx, f.doc(day(time.June, 1)), []entity.StockActivity{f.in("1", "1")})
		assert.True(t, apperror.HasCode(err, apperror.CodeSubPeriodNotFound), "got %v", err)

		history, err := f.ledger.History(ctx, f.key(), valuation.MovementFilter{})
		require.NoError(t, err)
		assert.Empty(t, history)

		cur, err := f.ledger.GetCurrentBalance(ctx, f.key())
		require.NoError(t, err)
		assert.Nil(t, cur.LogID)
	})
}

func TestLedger_RetriesLockConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPerpetual)
		f.locker.FailNext(2)
		rows, err := f.ledger.Record(ctx, f.doc(day(time.July, 1)), []entity.StockActivity{f.in("3", "10")})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("gives up", func(t *testing.T) {
		f := newFixture(t, entity.PolicyPerpetual)
		f.locker.FailNext(10)
		_, err := f.ledger.Record(ctx, f.doc(day(time.July, 1)), []entity.StockActivity{f.in("3", "10")})
		assert.True(t, apperror.IsConcurrentModification(err), "got %v", err)

		history, err := f.ledger.History(ctx, f.key(), valuation.MovementFilter{})
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestLedger_ConcurrentDocumentsSerializePerKey(t *testing.T) {
	f := newFixture(t, entity.PolicyPerpetual)
	ctx := context.Background()

	const docs = 20
	var wg sync.WaitGroup
	errs := make(chan error, docs)
	for i := 0; i < docs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Record(ctx, f.doc(day(time.August, 1)), []entity.StockActivity{f.in("1", "10")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	cur, err := f.ledger.GetCurrentBalance(ctx, f.key())
	require.NoError(t, err)
	assertBalance(t, bal("20", "10", "200"), cur.Balance)

	for _, keys := range f.locker.Acquired() {
		require.Len(t, keys, 2)
		assert.Equal(t, f.key().LockKey(), keys[1])
	}
}

func TestLedger_GetCurrentBalanceOfUnknownKey(t *testing.T) {
	f := newFixture(t, entity.PolicyPerpetual)

	cur, err := f.ledger.GetCurrentBalance(context.Background(), f.key())
	require.NoError(t, err)
	assertBalance(t, entity.ZeroBalance(), cur.Balance)
	assert.Nil(t, cur.LogID)
}

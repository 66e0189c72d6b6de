package valuation

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/event"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/pkg/logger"
)

const balanceEntity = "ProductWarehouseBalance"

// BalanceUpdater persists valuation results: the movement row snapshot, the
// sub-period balance and the latest pointer.
type BalanceUpdater struct {
	repo      Repository
	pointers  *PointerIndex
	auditor   audit.Recorder
	publisher event.Publisher
}

// NewBalanceUpdater creates a new balance updater.
func NewBalanceUpdater(repo Repository, pointers *PointerIndex, auditor audit.Recorder, publisher event.Publisher) *BalanceUpdater {
	return &BalanceUpdater{
		repo:      repo,
		pointers:  pointers,
		auditor:   auditor,
		publisher: publisher,
	}
}

// Persist writes result for row. prev is the latest movement of the key before
// row (nil for a first-ever movement). Must run under the key's lock.
func (u *BalanceUpdater) Persist(
	ctx context.Context,
	policy entity.ValuationPolicy,
	doc entity.FinalizedDocument,
	row *entity.StockMovementLog,
	prev *Latest,
	result Result,
) (*entity.ProductWarehouseBalance, error) {
	// 1. Fill the row snapshot (once).
	if row.Direction == entity.DirectionOut {
		row.Cost, row.Value = result.Cost, result.Value
	}
	row.SetSnapshot(policy, result.Balance)
	if err := u.repo.SaveValuation(ctx, row); err != nil {
		return nil, fmt.Errorf("save valuation of log %s: %w", row.ID, err)
	}

	// 2. Find or create the sub-period balance.
	balance, created, err := u.findOrCreate(ctx, policy, row, prev)
	if err != nil {
		return nil, err
	}

	// 3-4. Apply the movement to the balance.
	switch policy {
	case entity.PolicyPeriodic:
		if err := u.accumulate(ctx, doc, balance, row); err != nil {
			return nil, err
		}
	default:
		balance.SetEnding(result.Balance)
	}
	balance.LatestLogID = row.ID
	balance.UpdatedAt = time.Now().UTC()

	if created {
		err = u.repo.InsertBalance(ctx, balance)
	} else {
		err = u.repo.UpdateBalance(ctx, balance)
	}
	if err != nil {
		return nil, fmt.Errorf("save balance %s: %w", balance.ID, err)
	}

	// 5. Advance the latest pointer.
	if err := u.pointers.Advance(ctx, row, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (u *BalanceUpdater) findOrCreate(
	ctx context.Context,
	policy entity.ValuationPolicy,
	row *entity.StockMovementLog,
	prev *Latest,
) (*entity.ProductWarehouseBalance, bool, error) {
	balance, err := u.repo.GetBalance(ctx, row.Key(), row.PeriodID, row.SubPeriodID)
	if err == nil {
		return balance, false, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, false, fmt.Errorf("get balance: %w", err)
	}

	opening, err := u.opening(ctx, policy, row, prev)
	if err != nil {
		return nil, false, err
	}
	return entity.NewProductWarehouseBalance(row, opening), true, nil
}

// opening returns the balance carried into a new sub-period balance row.
// Perpetual: the latest row's running snapshot. Periodic: the closing figures
// of the balance the latest row went into, closing it first if it is an
// earlier sub-period still open.
func (u *BalanceUpdater) opening(
	ctx context.Context,
	policy entity.ValuationPolicy,
	row *entity.StockMovementLog,
	prev *Latest,
) (entity.Balance, error) {
	if prev == nil {
		return entity.ZeroBalance(), nil
	}
	if policy == entity.PolicyPerpetual {
		return prev.Log.Perpetual(), nil
	}

	prior, err := u.repo.GetBalanceByID(ctx, prev.Pointer.BalanceID)
	if err != nil {
		return entity.Balance{}, fmt.Errorf("get prior balance %s: %w", prev.Pointer.BalanceID, err)
	}
	if prior.Closed {
		return prior.PeriodicEnding(), nil
	}
	if !precedes(prior, row) {
		// Late posting into an earlier sub-period: the later one is still being
		// accumulated, carry its running quantity only.
		return entity.Balance{
			Quantity: prev.Log.Periodic().Quantity,
			Cost:     types.Zero(),
			Value:    types.Zero(),
		}, nil
	}

	if err := u.CloseBalance(ctx, prior); err != nil {
		return entity.Balance{}, err
	}
	logger.Info(ctx, "closed prior balance before carrying it forward",
		"balance_id", prior.ID,
		"fiscal_year", prior.FiscalYear,
		"sub_period", prior.SubPeriodOrder,
	)
	return prior.PeriodicEnding(), nil
}

// accumulate adds a movement to the periodic sums, reopening a closed balance.
func (u *BalanceUpdater) accumulate(ctx context.Context, doc entity.FinalizedDocument, b *entity.ProductWarehouseBalance, row *entity.StockMovementLog) error {
	if b.Closed {
		if err := u.reopen(ctx, doc, b, row); err != nil {
			return err
		}
	}

	if row.Direction == entity.DirectionIn {
		b.SumInputQuantity = b.SumInputQuantity.Add(row.Quantity)
		b.SumInputValue = b.SumInputValue.Add(row.Quantity.Mul(row.Cost))
		return nil
	}
	b.SumOutputQuantity = b.SumOutputQuantity.Add(row.Quantity)
	return nil
}

// reopen clears the closed flag and the periodic ending cost/value so that the
// next close recomputes them.
func (u *BalanceUpdater) reopen(ctx context.Context, doc entity.FinalizedDocument, b *entity.ProductWarehouseBalance, row *entity.StockMovementLog) error {
	before := b.PeriodicEnding()

	b.Closed = false
	b.ClosedAt = nil
	b.PeriodicEndingCost = types.Zero()
	b.PeriodicEndingValue = types.Zero()

	logger.Warn(ctx, "late posting reopened a closed balance",
		"balance_id", b.ID,
		"product_id", b.ProductID,
		"warehouse_id", b.WarehouseID,
		"fiscal_year", b.FiscalYear,
		"sub_period", b.SubPeriodOrder,
		"document_id", doc.ID,
	)

	err := u.auditor.Record(ctx, audit.Entry{
		EntityType: balanceEntity,
		EntityID:   b.ID,
		Action:     audit.ActionReopen,
		Changes: map[string]any{
			"closed":                audit.Change(true, false),
			"periodic_ending_cost":  audit.Change(before.Cost, b.PeriodicEndingCost),
			"periodic_ending_value": audit.Change(before.Value, b.PeriodicEndingValue),
			"reopened_by_log_id":    row.ID,
			"reopened_by_document":  doc.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("audit reopen: %w", err)
	}

	return u.publisher.Publish(ctx, event.Event{
		AggregateType: event.AggregateBalance,
		AggregateID:   b.ID,
		EventType:     event.TypeBalanceReopened,
		Payload: BalanceReopened{
			BalanceID:      b.ID,
			TenantID:       b.TenantID,
			CompanyID:      b.CompanyID,
			ProductID:      b.ProductID,
			WarehouseID:    b.WarehouseID,
			FiscalYear:     b.FiscalYear,
			SubPeriodOrder: b.SubPeriodOrder,
			DocumentID:     doc.ID,
			LogID:          row.ID,
		},
	})
}

// CloseBalance writes the periodic closing figures of b and marks it closed.
func (u *BalanceUpdater) CloseBalance(ctx context.Context, b *entity.ProductWarehouseBalance) error {
	before := b.PeriodicEnding()
	closing := Close(b)

	now := time.Now().UTC()
	b.SetPeriodicEnding(closing)
	b.Closed = true
	b.ClosedAt = &now
	b.UpdatedAt = now

	if err := u.repo.UpdateBalance(ctx, b); err != nil {
		return fmt.Errorf("close balance %s: %w", b.ID, err)
	}

	err := u.auditor.Record(ctx, audit.Entry{
		EntityType: balanceEntity,
		EntityID:   b.ID,
		Action:     audit.ActionClose,
		Changes: map[string]any{
			"closed":                   audit.Change(false, true),
			"periodic_ending_quantity": audit.Change(before.Quantity, closing.Quantity),
			"periodic_ending_cost":     audit.Change(before.Cost, closing.Cost),
			"periodic_ending_value":    audit.Change(before.Value, closing.Value),
		},
	})
	if err != nil {
		return fmt.Errorf("audit close: %w", err)
	}
	return nil
}

// precedes reports whether b belongs to a sub-period before the one of row.
func precedes(b *entity.ProductWarehouseBalance, row *entity.StockMovementLog) bool {
	if b.FiscalYear != row.FiscalYear {
		return b.FiscalYear < row.FiscalYear
	}
	return b.SubPeriodOrder < row.SubPeriodOrder
}

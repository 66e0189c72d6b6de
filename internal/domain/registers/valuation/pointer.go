package valuation

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
)

// Latest is the most recent movement of a stock key and the balance row it went into.
type Latest struct {
	Pointer *entity.LatestPointer
	Log     *entity.StockMovementLog
}

// Snapshot returns the running balance of the latest row under policy.
// A nil Latest (first-ever movement) yields {0,0,0}.
func (l *Latest) Snapshot(policy entity.ValuationPolicy) entity.Balance {
	if l == nil || l.Log == nil {
		return entity.ZeroBalance()
	}
	if policy == entity.PolicyPeriodic {
		return l.Log.Periodic()
	}
	return l.Log.Perpetual()
}

// PointerIndex gives O(1) access to the latest movement of a stock key.
type PointerIndex struct {
	repo Repository
}

// NewPointerIndex creates a new pointer index.
func NewPointerIndex(repo Repository) *PointerIndex {
	return &PointerIndex{repo: repo}
}

// Latest returns the latest movement of key, or nil when the key never moved.
func (x *PointerIndex) Latest(ctx context.Context, key entity.StockKey) (*Latest, error) {
	ptr, err := x.repo.GetPointer(ctx, key)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest pointer: %w", err)
	}

	row, err := x.repo.GetLog(ctx, ptr.LogID)
	if err != nil {
		return nil, fmt.Errorf("get latest log %s: %w", ptr.LogID, err)
	}
	return &Latest{Pointer: ptr, Log: row}, nil
}

// Advance points key at row, accumulated into balance.
func (x *PointerIndex) Advance(ctx context.Context, row *entity.StockMovementLog, balance *entity.ProductWarehouseBalance) error {
	ptr := &entity.LatestPointer{
		TenantID:    row.TenantID,
		ProductID:   row.ProductID,
		WarehouseID: row.WarehouseID,
		LogID:       row.ID,
		BalanceID:   balance.ID,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := x.repo.UpsertPointer(ctx, ptr); err != nil {
		return fmt.Errorf("upsert latest pointer: %w", err)
	}
	return nil
}

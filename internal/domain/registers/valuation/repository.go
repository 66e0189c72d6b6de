// Package valuation provides the inventory valuation ledger: movement logging,
// perpetual and periodic costing, per sub-period balances and period closing.
package valuation

import (
	"context"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// Repository defines storage operations of the valuation ledger.
// Lookups of a single row return apperror.NewNotFound when the row does not exist.
type Repository interface {
	// Movement log

	// InsertLogs bulk inserts freshly created movement rows.
	InsertLogs(ctx context.Context, rows []*entity.StockMovementLog) error

	// SaveValuation writes the valuation fields of a row that was not valued yet.
	// Returns CONCURRENT_MODIFICATION if the row is already valued.
	SaveValuation(ctx context.Context, row *entity.StockMovementLog) error

	// GetLog returns a movement row by id.
	GetLog(ctx context.Context, logID id.ID) (*entity.StockMovementLog, error)

	// ListLogsByDocument returns the rows of a document ordered by LogOrder.
	ListLogsByDocument(ctx context.Context, tenantID, documentID id.ID) ([]*entity.StockMovementLog, error)

	// ListMovements returns movement history of a stock key.
	ListMovements(ctx context.Context, key entity.StockKey, filter MovementFilter) ([]*entity.StockMovementLog, error)

	// Balances

	// GetBalance returns the balance row of a key in a sub-period.
	GetBalance(ctx context.Context, key entity.StockKey, periodID, subPeriodID id.ID) (*entity.ProductWarehouseBalance, error)

	// GetBalanceByID returns a balance row by id.
	GetBalanceByID(ctx context.Context, balanceID id.ID) (*entity.ProductWarehouseBalance, error)

	// InsertBalance creates a balance row.
	InsertBalance(ctx context.Context, balance *entity.ProductWarehouseBalance) error

	// UpdateBalance overwrites a balance row in place.
	UpdateBalance(ctx context.Context, balance *entity.ProductWarehouseBalance) error

	// ListOpenBalances returns not yet closed balances of a sub-period, locked for update.
	ListOpenBalances(ctx context.Context, tenantID, periodID, subPeriodID id.ID) ([]*entity.ProductWarehouseBalance, error)

	// Latest pointers

	// GetPointer returns the latest pointer of a key.
	GetPointer(ctx context.Context, key entity.StockKey) (*entity.LatestPointer, error)

	// UpsertPointer creates or overwrites the latest pointer of a key.
	UpsertPointer(ctx context.Context, pointer *entity.LatestPointer) error
}

// PolicySource returns the raw company valuation setting
// (definition_inventory_valuation).
type PolicySource interface {
	ValuationSetting(ctx context.Context, tenantID, companyID id.ID) (int, error)
}

// MovementFilter for filtering movement history.
type MovementFilter struct {
	Direction *entity.Direction
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

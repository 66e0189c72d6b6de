// Package entity provides core domain entities of the valuation ledger.
package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// Direction defines movement direction of a stock activity.
type Direction int

const (
	// DirectionIn increases stock (receipt, return from customer, positive adjustment).
	DirectionIn Direction = 1
	// DirectionOut decreases stock (delivery, issue, negative adjustment).
	DirectionOut Direction = -1
)

// Valid reports whether d is In or Out.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ValuationPolicy is the company-wide costing method.
// Stored as definition_inventory_valuation: 0 = perpetual, 1 = periodic.
type ValuationPolicy int

const (
	// PolicyPerpetual recomputes a moving weighted-average cost on every movement.
	PolicyPerpetual ValuationPolicy = 0
	// PolicyPeriodic defers costing to sub-period close (period weighted average).
	PolicyPeriodic ValuationPolicy = 1
)

func (p ValuationPolicy) String() string {
	switch p {
	case PolicyPerpetual:
		return "perpetual"
	case PolicyPeriodic:
		return "periodic"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Balance is a quantity/cost/value triple.
type Balance struct {
	Quantity types.Quantity `json:"quantity"`
	Cost     types.Money    `json:"cost"`
	Value    types.Money    `json:"value"`
}

// ZeroBalance returns {0,0,0}, the opening of a first-ever movement.
func ZeroBalance() Balance {
	return Balance{Quantity: types.Zero(), Cost: types.Zero(), Value: types.Zero()}
}

// Equal compares balances numerically (scale-insensitive).
func (b Balance) Equal(o Balance) bool {
	return b.Quantity.Equal(o.Quantity) && b.Cost.Equal(o.Cost) && b.Value.Equal(o.Value)
}

func (b Balance) String() string {
	return fmt.Sprintf("{%s,%s,%s}", b.Quantity, b.Cost, b.Value)
}

// StockKey identifies the unit of serialization: one product in one warehouse of a tenant.
type StockKey struct {
	TenantID    id.ID `json:"tenantId"`
	ProductID   id.ID `json:"productId"`
	WarehouseID id.ID `json:"warehouseId"`
}

// LockKey is the name of the exclusive lock guarding this key.
func (k StockKey) LockKey() string {
	return fmt.Sprintf("stock:%s:%s:%s", k.TenantID, k.ProductID, k.WarehouseID)
}

// Less orders keys by product, then warehouse (tenant first for completeness).
func (k StockKey) Less(o StockKey) bool {
	if c := id.Compare(k.TenantID, o.TenantID); c != 0 {
		return c < 0
	}
	if c := id.Compare(k.ProductID, o.ProductID); c != 0 {
		return c < 0
	}
	return id.Compare(k.WarehouseID, o.WarehouseID) < 0
}

// LotData is lot/serial metadata copied from the source transaction.
// The ledger stores it for display and never interprets it.
type LotData struct {
	LotNumber     string          `json:"lotNumber,omitempty"`
	SerialNumbers []string        `json:"serialNumbers,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
}

// StockMovementLog is the append-only fact row of the ledger.
// After insert, only the valuation fields are written, exactly once.
type StockMovementLog struct {
	ID         id.ID `db:"id" json:"id"`
	TenantID   id.ID `db:"tenant_id" json:"tenantId"`
	CompanyID  id.ID `db:"company_id" json:"companyId"`
	DocumentID id.ID `db:"document_id" json:"documentId"`

	PeriodID       id.ID `db:"period_id" json:"periodId"`
	SubPeriodID    id.ID `db:"sub_period_id" json:"subPeriodId"`
	FiscalYear     int   `db:"fiscal_year" json:"fiscalYear"`
	SubPeriodOrder int   `db:"sub_period_order" json:"subPeriodOrder"`

	ProductID   id.ID     `db:"product_id" json:"productId"`
	WarehouseID id.ID     `db:"warehouse_id" json:"warehouseId"`
	Direction   Direction `db:"direction" json:"direction"`

	Quantity types.Quantity `db:"quantity" json:"quantity"`
	Cost     types.Money    `db:"cost" json:"cost"`
	Value    types.Money    `db:"value" json:"value"`

	SourceID    string   `db:"source_id" json:"sourceId"`
	SourceCode  string   `db:"source_code" json:"sourceCode"`
	SourceTitle string   `db:"source_title" json:"sourceTitle"`
	Lot         *LotData `db:"lot_data" json:"lot,omitempty"`

	// LogOrder is the position of the event inside its document batch.
	LogOrder int       `db:"log_order" json:"logOrder"`
	PostedAt time.Time `db:"posted_at" json:"postedAt"`

	// Valued is set together with the snapshot below.
	Valued bool            `db:"valued" json:"valued"`
	Policy ValuationPolicy `db:"valuation_policy" json:"valuationPolicy"`

	CurrentQuantity types.Quantity `db:"current_quantity" json:"currentQuantity"`
	CurrentCost     types.Money    `db:"current_cost" json:"currentCost"`
	CurrentValue    types.Money    `db:"current_value" json:"currentValue"`

	PeriodicCurrentQuantity types.Quantity `db:"periodic_current_quantity" json:"periodicCurrentQuantity"`
	PeriodicCurrentCost     types.Money    `db:"periodic_current_cost" json:"periodicCurrentCost"`
	PeriodicCurrentValue    types.Money    `db:"periodic_current_value" json:"periodicCurrentValue"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Key returns the serialization key of the row.
func (l *StockMovementLog) Key() StockKey {
	return StockKey{TenantID: l.TenantID, ProductID: l.ProductID, WarehouseID: l.WarehouseID}
}

// Perpetual returns the perpetual running snapshot.
func (l *StockMovementLog) Perpetual() Balance {
	return Balance{Quantity: l.CurrentQuantity, Cost: l.CurrentCost, Value: l.CurrentValue}
}

// Periodic returns the periodic running snapshot.
func (l *StockMovementLog) Periodic() Balance {
	return Balance{Quantity: l.PeriodicCurrentQuantity, Cost: l.PeriodicCurrentCost, Value: l.PeriodicCurrentValue}
}

// Snapshot returns the running snapshot of the policy the row was valued under.
func (l *StockMovementLog) Snapshot() Balance {
	if l.Policy == PolicyPeriodic {
		return l.Periodic()
	}
	return l.Perpetual()
}

// SetSnapshot fills the snapshot of the given policy and marks the row valued.
// The other policy's snapshot stays zero.
func (l *StockMovementLog) SetSnapshot(policy ValuationPolicy, b Balance) {
	l.Policy = policy
	l.Valued = true
	if policy == PolicyPeriodic {
		l.PeriodicCurrentQuantity, l.PeriodicCurrentCost, l.PeriodicCurrentValue = b.Quantity, b.Cost, b.Value
		return
	}
	l.CurrentQuantity, l.CurrentCost, l.CurrentValue = b.Quantity, b.Cost, b.Value
}

// ProductWarehouseBalance is the per sub-period summary of one stock key.
// At most one row exists per (tenant, product, warehouse, period, sub-period).
type ProductWarehouseBalance struct {
	ID          id.ID `db:"id" json:"id"`
	TenantID    id.ID `db:"tenant_id" json:"tenantId"`
	CompanyID   id.ID `db:"company_id" json:"companyId"`
	ProductID   id.ID `db:"product_id" json:"productId"`
	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`

	PeriodID       id.ID `db:"period_id" json:"periodId"`
	SubPeriodID    id.ID `db:"sub_period_id" json:"subPeriodId"`
	FiscalYear     int   `db:"fiscal_year" json:"fiscalYear"`
	SubPeriodOrder int   `db:"sub_period_order" json:"subPeriodOrder"`

	OpeningQuantity types.Quantity `db:"opening_quantity" json:"openingQuantity"`
	OpeningCost     types.Money    `db:"opening_cost" json:"openingCost"`
	OpeningValue    types.Money    `db:"opening_value" json:"openingValue"`

	// Perpetual ending balance.
	EndingQuantity types.Quantity `db:"ending_quantity" json:"endingQuantity"`
	EndingCost     types.Money    `db:"ending_cost" json:"endingCost"`
	EndingValue    types.Money    `db:"ending_value" json:"endingValue"`

	// Periodic running sums over the whole sub-period.
	SumInputQuantity  types.Quantity `db:"sum_input_quantity" json:"sumInputQuantity"`
	SumInputValue     types.Money    `db:"sum_input_value" json:"sumInputValue"`
	SumOutputQuantity types.Quantity `db:"sum_output_quantity" json:"sumOutputQuantity"`

	// Periodic ending balance, computed at close.
	PeriodicEndingQuantity types.Quantity `db:"periodic_ending_quantity" json:"periodicEndingQuantity"`
	PeriodicEndingCost     types.Money    `db:"periodic_ending_cost" json:"periodicEndingCost"`
	PeriodicEndingValue    types.Money    `db:"periodic_ending_value" json:"periodicEndingValue"`

	Closed   bool       `db:"closed" json:"closed"`
	ClosedAt *time.Time `db:"closed_at" json:"closedAt,omitempty"`

	LatestLogID id.ID `db:"latest_log_id" json:"latestLogId"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewProductWarehouseBalance creates a balance row for a log row's key seeded with opening.
func NewProductWarehouseBalance(row *StockMovementLog, opening Balance) *ProductWarehouseBalance {
	now := time.Now().UTC()
	zero := types.Zero()
	return &ProductWarehouseBalance{
		ID:                     id.New(),
		TenantID:               row.TenantID,
		CompanyID:              row.CompanyID,
		ProductID:              row.ProductID,
		WarehouseID:            row.WarehouseID,
		PeriodID:               row.PeriodID,
		SubPeriodID:            row.SubPeriodID,
		FiscalYear:             row.FiscalYear,
		SubPeriodOrder:         row.SubPeriodOrder,
		OpeningQuantity:        opening.Quantity,
		OpeningCost:            opening.Cost,
		OpeningValue:           opening.Value,
		EndingQuantity:         opening.Quantity,
		EndingCost:             opening.Cost,
		EndingValue:            opening.Value,
		SumInputQuantity:       zero,
		SumInputValue:          zero,
		SumOutputQuantity:      zero,
		PeriodicEndingQuantity: zero,
		PeriodicEndingCost:     zero,
		PeriodicEndingValue:    zero,
		LatestLogID:            row.ID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// Key returns the serialization key of the row.
func (b *ProductWarehouseBalance) Key() StockKey {
	return StockKey{TenantID: b.TenantID, ProductID: b.ProductID, WarehouseID: b.WarehouseID}
}

// Opening returns the balance carried in from the prior sub-period.
func (b *ProductWarehouseBalance) Opening() Balance {
	return Balance{Quantity: b.OpeningQuantity, Cost: b.OpeningCost, Value: b.OpeningValue}
}

// Ending returns the perpetual ending balance.
func (b *ProductWarehouseBalance) Ending() Balance {
	return Balance{Quantity: b.EndingQuantity, Cost: b.EndingCost, Value: b.EndingValue}
}

// PeriodicEnding returns the periodic closing balance (meaningful once closed).
func (b *ProductWarehouseBalance) PeriodicEnding() Balance {
	return Balance{Quantity: b.PeriodicEndingQuantity, Cost: b.PeriodicEndingCost, Value: b.PeriodicEndingValue}
}

// SetEnding overwrites the perpetual ending balance.
func (b *ProductWarehouseBalance) SetEnding(v Balance) {
	b.EndingQuantity, b.EndingCost, b.EndingValue = v.Quantity, v.Cost, v.Value
}

// SetPeriodicEnding overwrites the periodic ending balance.
func (b *ProductWarehouseBalance) SetPeriodicEnding(v Balance) {
	b.PeriodicEndingQuantity, b.PeriodicEndingCost, b.PeriodicEndingValue = v.Quantity, v.Cost, v.Value
}

// LatestPointer points at the most recent movement row of a stock key across all periods.
type LatestPointer struct {
	TenantID    id.ID `db:"tenant_id" json:"tenantId"`
	ProductID   id.ID `db:"product_id" json:"productId"`
	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`

	LogID id.ID `db:"log_id" json:"logId"`
	// BalanceID is the balance row the pointed log row was accumulated into.
	BalanceID id.ID `db:"balance_id" json:"balanceId"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Key returns the serialization key of the pointer.
func (p *LatestPointer) Key() StockKey {
	return StockKey{TenantID: p.TenantID, ProductID: p.ProductID, WarehouseID: p.WarehouseID}
}

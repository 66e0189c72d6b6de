package valuation

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// Result is the outcome of valuing one movement.
type Result struct {
	// Balance is the running balance after the movement.
	Balance entity.Balance

	// Cost and Value of the movement itself. Outflows under the perpetual
	// policy are costed at the running cost before the movement.
	Cost  types.Money
	Value types.Money

	// Clamped is set when an outflow exceeded the available quantity and the
	// balance was floored at zero. Shortfall is the uncovered quantity.
	Clamped   bool
	Shortfall types.Quantity
}

// Apply computes the running balance after row given the balance before it.
// It has no side effects.
func Apply(policy entity.ValuationPolicy, prev entity.Balance, row *entity.StockMovementLog) Result {
	if policy == entity.PolicyPeriodic {
		return applyPeriodic(prev, row)
	}
	return applyPerpetual(prev, row)
}

// applyPerpetual implements the moving weighted average.
func applyPerpetual(prev entity.Balance, row *entity.StockMovementLog) Result {
	if row.Direction == entity.DirectionIn {
		qty := prev.Quantity.Add(row.Quantity)
		value := prev.Value.Add(row.Quantity.Mul(row.Cost))
		return Result{
			Balance: entity.Balance{Quantity: qty, Cost: types.DivOrZero(value, qty), Value: value},
			Cost:    row.Cost,
			Value:   row.Quantity.Mul(row.Cost),
		}
	}

	res := Result{
		Cost:  prev.Cost,
		Value: row.Quantity.Mul(prev.Cost),
	}
	qty := prev.Quantity.Sub(row.Quantity)
	if !qty.IsPositive() {
		res.Balance = entity.ZeroBalance()
		if qty.IsNegative() {
			res.Clamped = true
			res.Shortfall = qty.Neg()
		}
		return res
	}
	res.Balance = entity.Balance{Quantity: qty, Cost: prev.Cost, Value: prev.Cost.Mul(qty)}
	return res
}

// applyPeriodic only advances quantity; cost and value stay zero until close.
func applyPeriodic(prev entity.Balance, row *entity.StockMovementLog) Result {
	res := Result{Balance: entity.ZeroBalance()}

	if row.Direction == entity.DirectionIn {
		res.Cost = row.Cost
		res.Value = row.Quantity.Mul(row.Cost)
		res.Balance.Quantity = prev.Quantity.Add(row.Quantity)
		return res
	}

	res.Cost, res.Value = types.Zero(), types.Zero()
	qty := prev.Quantity.Sub(row.Quantity)
	if qty.IsNegative() {
		res.Clamped = true
		res.Shortfall = qty.Neg()
		qty = types.Zero()
	}
	res.Balance.Quantity = qty
	return res
}

// Close computes the periodic closing balance of a sub-period:
// quantity = opening + inputs - outputs (floored at zero), cost = input value /
// input quantity, or the opening cost carried forward when nothing came in.
func Close(b *entity.ProductWarehouseBalance) entity.Balance {
	qty := types.FloorZero(b.OpeningQuantity.Add(b.SumInputQuantity).Sub(b.SumOutputQuantity))

	cost := b.OpeningCost
	if b.SumInputQuantity.IsPositive() {
		cost = b.SumInputValue.Div(b.SumInputQuantity)
	}
	if qty.IsZero() {
		return entity.Balance{Quantity: qty, Cost: cost, Value: types.Zero()}
	}
	return entity.Balance{Quantity: qty, Cost: cost, Value: cost.Mul(qty)}
}

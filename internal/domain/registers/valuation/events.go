package valuation

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// StockMovementsValued is published once per recorded document.
type StockMovementsValued struct {
	DocumentID     id.ID                  `json:"documentId"`
	TenantID       id.ID                  `json:"tenantId"`
	CompanyID      id.ID                  `json:"companyId"`
	Policy         entity.ValuationPolicy `json:"policy"`
	FiscalYear     int                    `json:"fiscalYear"`
	SubPeriodOrder int                    `json:"subPeriodOrder"`
	Movements      []MovementValued       `json:"movements"`
}

// MovementValued is one valued movement row.
type MovementValued struct {
	LogID       id.ID            `json:"logId"`
	LogOrder    int              `json:"logOrder"`
	ProductID   id.ID            `json:"productId"`
	WarehouseID id.ID            `json:"warehouseId"`
	Direction   entity.Direction `json:"direction"`
	Quantity    types.Quantity   `json:"quantity"`
	Cost        types.Money      `json:"cost"`
	Value       types.Money      `json:"value"`
	Balance     entity.Balance   `json:"balance"`
}

// SubPeriodClosed is published when a sub-period close touched at least one balance.
type SubPeriodClosed struct {
	TenantID       id.ID `json:"tenantId"`
	CompanyID      id.ID `json:"companyId"`
	PeriodID       id.ID `json:"periodId"`
	SubPeriodID    id.ID `json:"subPeriodId"`
	FiscalYear     int   `json:"fiscalYear"`
	SubPeriodOrder int   `json:"subPeriodOrder"`
	Closed         int   `json:"closed"`
}

// BalanceReopened is published when a late posting reopens a closed balance.
type BalanceReopened struct {
	BalanceID      id.ID `json:"balanceId"`
	TenantID       id.ID `json:"tenantId"`
	CompanyID      id.ID `json:"companyId"`
	ProductID      id.ID `json:"productId"`
	WarehouseID    id.ID `json:"warehouseId"`
	FiscalYear     int   `json:"fiscalYear"`
	SubPeriodOrder int   `json:"subPeriodOrder"`
	DocumentID     id.ID `json:"documentId"`
	LogID          id.ID `json:"logId"`
}

func newStockMovementsValued(doc entity.FinalizedDocument, policy entity.ValuationPolicy, rows []*entity.StockMovementLog) StockMovementsValued {
	payload := StockMovementsValued{
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		CompanyID:  doc.CompanyID,
		Policy:     policy,
		Movements:  make([]MovementValued, 0, len(rows)),
	}
	if len(rows) > 0 {
		payload.FiscalYear = rows[0].FiscalYear
		payload.SubPeriodOrder = rows[0].SubPeriodOrder
	}
	for _, r := range rows {
		payload.Movements = append(payload.Movements, MovementValued{
			LogID:       r.ID,
			LogOrder:    r.LogOrder,
			ProductID:   r.ProductID,
			WarehouseID: r.WarehouseID,
			Direction:   r.Direction,
			Quantity:    r.Quantity,
			Cost:        r.Cost,
			Value:       r.Value,
			Balance:     r.Snapshot(),
		})
	}
	return payload
}

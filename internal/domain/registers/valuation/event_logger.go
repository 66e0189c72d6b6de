package valuation

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/fiscal"
	"stockledger/pkg/logger"
)

// EventLogger turns the stock activity of a finalized document into movement rows.
type EventLogger struct {
	repo     Repository
	calendar *fiscal.Calendar
}

// NewEventLogger creates a new stock event logger.
func NewEventLogger(repo Repository, calendar *fiscal.Calendar) *EventLogger {
	return &EventLogger{repo: repo, calendar: calendar}
}

// Log resolves the fiscal position once for the whole batch from the document
// approval date and inserts one row per event in input order.
// Rows are returned unvalued.
func (l *EventLogger) Log(ctx context.Context, doc entity.FinalizedDocument, events []entity.StockActivity) ([]*entity.StockMovementLog, error) {
	if len(events) == 0 {
		return nil, nil
	}

	pos, err := l.calendar.Resolve(ctx, doc.TenantID, doc.CompanyID, doc.ApprovalDate)
	if err != nil {
		return nil, err
	}
	if !pos.SubPeriod.IsOpen() {
		return nil, apperror.NewPeriodClosed(pos.String()).
			WithDetail("document_id", doc.ID)
	}

	now := time.Now().UTC()
	rows := make([]*entity.StockMovementLog, 0, len(events))
	for i, ev := range events {
		rows = append(rows, newLogRow(doc, pos, ev, i+1, now))
	}

	if err := l.repo.InsertLogs(ctx, rows); err != nil {
		return nil, fmt.Errorf("insert movement logs: %w", err)
	}

	logger.Debug(ctx, "stock movements logged",
		"count", len(rows),
		"position", pos.String(),
	)
	return rows, nil
}

func newLogRow(doc entity.FinalizedDocument, pos entity.FiscalPosition, ev entity.StockActivity, order int, now time.Time) *entity.StockMovementLog {
	zero := types.Zero()
	row := &entity.StockMovementLog{
		ID:                      id.New(),
		TenantID:                doc.TenantID,
		CompanyID:               doc.CompanyID,
		DocumentID:              doc.ID,
		PeriodID:                pos.Period.ID,
		SubPeriodID:             pos.SubPeriod.ID,
		FiscalYear:              pos.Period.FiscalYear,
		SubPeriodOrder:          pos.SubPeriod.Order,
		ProductID:               ev.ProductID,
		WarehouseID:             ev.WarehouseID,
		Direction:               ev.Direction,
		Quantity:                ev.Quantity,
		Cost:                    zero,
		Value:                   zero,
		SourceID:                ev.Source.ID,
		SourceCode:              ev.Source.Code,
		SourceTitle:             ev.Source.Title,
		Lot:                     ev.Lot,
		LogOrder:                order,
		PostedAt:                doc.ApprovalDate,
		CurrentQuantity:         zero,
		CurrentCost:             zero,
		CurrentValue:            zero,
		PeriodicCurrentQuantity: zero,
		PeriodicCurrentCost:     zero,
		PeriodicCurrentValue:    zero,
		CreatedAt:               now,
	}
	if row.SourceCode == "" {
		row.SourceCode = doc.SourceCode
	}
	if row.SourceTitle == "" {
		row.SourceTitle = doc.SourceTitle
	}
	// Inbound cost is known up front; outbound cost is set during valuation.
	if ev.Direction == entity.DirectionIn {
		row.Cost = ev.Cost
		row.Value = ev.Quantity.Mul(ev.Cost)
	}
	return row
}

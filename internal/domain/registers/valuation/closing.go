package valuation

import (
	"context"
	"fmt"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/event"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/fiscal"
	"stockledger/pkg/logger"
)

// ClosingService closes periodic sub-periods.
//
// Closing is lazy: the first periodic posting into sub-period N closes N-1
// (or sub-period 12 of the prior fiscal year) through EnsurePriorClosed.
// CloseSubPeriod may also be called explicitly.
type ClosingService struct {
	repo      Repository
	calendar  *fiscal.Calendar
	updater   *BalanceUpdater
	publisher event.Publisher
}

// NewClosingService creates a new period closing service.
func NewClosingService(
	repo Repository,
	calendar *fiscal.Calendar,
	updater *BalanceUpdater,
	publisher event.Publisher,
) *ClosingService {
	return &ClosingService{
		repo:      repo,
		calendar:  calendar,
		updater:   updater,
		publisher: publisher,
	}
}

// CloseSubPeriod closes every open balance of pos. Already closed balances are
// left untouched, so re-closing is a no-op. Must run inside a transaction;
// the open balances are row-locked, which serializes concurrent closers.
// Returns the number of balances closed.
func (s *ClosingService) CloseSubPeriod(ctx context.Context, pos entity.FiscalPosition) (int, error) {
	tenantID := pos.Period.TenantID

	open, err := s.repo.ListOpenBalances(ctx, tenantID, pos.Period.ID, pos.SubPeriod.ID)
	if err != nil {
		return 0, fmt.Errorf("list open balances: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	for _, b := range open {
		if err := s.updater.CloseBalance(ctx, b); err != nil {
			return 0, err
		}
	}

	err = s.publisher.Publish(ctx, event.Event{
		AggregateType: event.AggregateSubPeriod,
		AggregateID:   pos.SubPeriod.ID,
		EventType:     event.TypeSubPeriodClosed,
		Payload: SubPeriodClosed{
			TenantID:       tenantID,
			CompanyID:      pos.Period.CompanyID,
			PeriodID:       pos.Period.ID,
			SubPeriodID:    pos.SubPeriod.ID,
			FiscalYear:     pos.Period.FiscalYear,
			SubPeriodOrder: pos.SubPeriod.Order,
			Closed:         len(open),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("publish sub-period closed: %w", err)
	}

	logger.Info(ctx, "sub-period closed",
		"position", pos.String(),
		"balances", len(open),
	)
	return len(open), nil
}

// EnsurePriorClosed closes the sub-period preceding (fiscalYear, order) if it
// has open balances. A prior fiscal year that is not configured means there
// is nothing to close. Must run inside a transaction.
func (s *ClosingService) EnsurePriorClosed(ctx context.Context, tenantID, companyID id.ID, fiscalYear, order int) (int, error) {
	pos, err := s.calendar.Position(ctx, tenantID, companyID, fiscalYear, order)
	if err != nil {
		return 0, err
	}

	prev, ok, err := s.calendar.Previous(ctx, pos)
	if err != nil {
		return 0, err
	}
	if !ok {
		logger.Debug(ctx, "no prior fiscal year, nothing to close", "position", pos.String())
		return 0, nil
	}

	return s.CloseSubPeriod(ctx, prev)
}

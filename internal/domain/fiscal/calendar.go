package fiscal

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/pkg/logger"
)

// Calendar resolves dates to (Period, SubPeriod) pairs.
//
// A fiscal year is labelled by the calendar year it starts in. With SpaceMonth = 3
// the fiscal year 2025 runs from April 2025 (sub-period 1) to March 2026 (sub-period 12).
type Calendar struct {
	repo Repository
}

// NewCalendar creates a new fiscal calendar.
func NewCalendar(repo Repository) *Calendar {
	return &Calendar{repo: repo}
}

// SubPeriodOrder maps a calendar month onto a sub-period ordinal.
// yearOffset is 0 when the month belongs to the fiscal year labelled by the
// calendar year, and -1 when it belongs to the previous one.
func SubPeriodOrder(month time.Month, spaceMonth int) (yearOffset, order int) {
	m := int(month)
	if m > spaceMonth {
		return 0, m - spaceMonth
	}
	return -1, m - spaceMonth + entity.SubPeriodsPerYear
}

// Resolve returns the position of date for a tenant/company.
// Fails with PERIOD_NOT_FOUND when no Period covers the date and with
// SUBPERIOD_NOT_FOUND when the Period lacks the computed sub-period.
func (c *Calendar) Resolve(ctx context.Context, tenantID, companyID id.ID, date time.Time) (entity.FiscalPosition, error) {
	year, month := date.Year(), date.Month()

	period, err := c.findPeriod(ctx, tenantID, companyID, year)
	if err != nil {
		return entity.FiscalPosition{}, err
	}
	if period != nil {
		if offset, order := SubPeriodOrder(month, period.SpaceMonth); offset == 0 {
			return c.Locate(ctx, period, order)
		}
	}

	prior, err := c.findPeriod(ctx, tenantID, companyID, year-1)
	if err != nil {
		return entity.FiscalPosition{}, err
	}
	if prior != nil {
		if offset, order := SubPeriodOrder(month, prior.SpaceMonth); offset == -1 {
			return c.Locate(ctx, prior, order)
		}
	}

	missing := year
	if period != nil {
		missing = year - 1
	}
	return entity.FiscalPosition{}, apperror.NewPeriodNotFound(companyID, missing).
		WithDetail("date", date.Format(time.DateOnly))
}

// Locate returns the position of the sub-period with the given ordinal in period.
func (c *Calendar) Locate(ctx context.Context, period *entity.Period, order int) (entity.FiscalPosition, error) {
	if order < 1 || order > entity.SubPeriodsPerYear {
		return entity.FiscalPosition{}, apperror.NewSubPeriodNotFound(period.ID, order)
	}
	sub, err := c.repo.GetSubPeriod(ctx, period.ID, order)
	if err != nil {
		if apperror.IsNotFound(err) {
			return entity.FiscalPosition{}, apperror.NewSubPeriodNotFound(period.ID, order).
				WithDetail("fiscal_year", period.FiscalYear)
		}
		return entity.FiscalPosition{}, fmt.Errorf("get sub-period: %w", err)
	}
	return entity.FiscalPosition{Period: *period, SubPeriod: *sub}, nil
}

// Position returns the position of (fiscalYear, order) for a tenant/company.
func (c *Calendar) Position(ctx context.Context, tenantID, companyID id.ID, fiscalYear, order int) (entity.FiscalPosition, error) {
	period, err := c.findPeriod(ctx, tenantID, companyID, fiscalYear)
	if err != nil {
		return entity.FiscalPosition{}, err
	}
	if period == nil {
		return entity.FiscalPosition{}, apperror.NewPeriodNotFound(companyID, fiscalYear)
	}
	return c.Locate(ctx, period, order)
}

// Previous returns the sub-period preceding pos: order-1 of the same Period, or
// sub-period 12 of the prior fiscal year for order 1.
// ok is false when the prior fiscal year is not configured.
func (c *Calendar) Previous(ctx context.Context, pos entity.FiscalPosition) (prev entity.FiscalPosition, ok bool, err error) {
	if pos.SubPeriod.Order > 1 {
		prev, err = c.Locate(ctx, &pos.Period, pos.SubPeriod.Order-1)
		return prev, err == nil, err
	}

	prior, err := c.findPeriod(ctx, pos.Period.TenantID, pos.Period.CompanyID, pos.Period.FiscalYear-1)
	if err != nil {
		return entity.FiscalPosition{}, false, err
	}
	if prior == nil {
		return entity.FiscalPosition{}, false, nil
	}
	prev, err = c.Locate(ctx, prior, entity.SubPeriodsPerYear)
	return prev, err == nil, err
}

// CreateYear creates a Period with twelve open SubPeriods.
func (c *Calendar) CreateYear(ctx context.Context, tenantID, companyID id.ID, fiscalYear, spaceMonth int) (*entity.Period, error) {
	if spaceMonth < 0 || spaceMonth >= entity.SubPeriodsPerYear {
		return nil, apperror.NewValidation("space month must be between 0 and 11").
			WithDetail("space_month", spaceMonth)
	}
	period, subs := entity.NewPeriod(tenantID, companyID, fiscalYear, spaceMonth)
	if err := c.repo.CreatePeriod(ctx, &period, subs); err != nil {
		return nil, fmt.Errorf("create period: %w", err)
	}
	logger.Info(ctx, "fiscal year created",
		"company_id", companyID,
		"fiscal_year", fiscalYear,
		"space_month", spaceMonth,
	)
	return &period, nil
}

// SetPostingLock locks or reopens a sub-period for posting.
func (c *Calendar) SetPostingLock(ctx context.Context, pos entity.FiscalPosition, locked bool) error {
	if err := c.repo.SetSubPeriodLocked(ctx, pos.SubPeriod.ID, locked); err != nil {
		return fmt.Errorf("set posting lock: %w", err)
	}
	logger.Info(ctx, "sub-period posting lock changed",
		"position", pos.String(),
		"locked", locked,
	)
	return nil
}

func (c *Calendar) findPeriod(ctx context.Context, tenantID, companyID id.ID, fiscalYear int) (*entity.Period, error) {
	p, err := c.repo.GetPeriod(ctx, tenantID, companyID, fiscalYear)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get period %d: %w", fiscalYear, err)
	}
	return p, nil
}

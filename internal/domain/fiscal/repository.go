// Package fiscal resolves points in time to fiscal Periods and SubPeriods.
package fiscal

import (
	"context"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// Repository provides access to the fiscal calendar of a tenant/company.
// Lookups return apperror.NewNotFound when the row does not exist.
type Repository interface {
	// GetPeriod returns the Period of a company for the given fiscal year.
	GetPeriod(ctx context.Context, tenantID, companyID id.ID, fiscalYear int) (*entity.Period, error)

	// GetSubPeriod returns the SubPeriod with the given ordinal.
	GetSubPeriod(ctx context.Context, periodID id.ID, order int) (*entity.SubPeriod, error)

	// CreatePeriod stores a Period together with its SubPeriods.
	CreatePeriod(ctx context.Context, period *entity.Period, subPeriods []entity.SubPeriod) error

	// SetSubPeriodLocked opens or locks a SubPeriod for posting.
	SetSubPeriodLocked(ctx context.Context, subPeriodID id.ID, locked bool) error
}

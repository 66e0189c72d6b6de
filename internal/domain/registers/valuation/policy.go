package valuation

import (
	"context"
	"fmt"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// ParsePolicy converts a company setting into a ValuationPolicy.
// Values outside {0,1} are a configuration error and never default.
func ParsePolicy(companyID id.ID, setting int) (entity.ValuationPolicy, error) {
	switch p := entity.ValuationPolicy(setting); p {
	case entity.PolicyPerpetual, entity.PolicyPeriodic:
		return p, nil
	default:
		return 0, apperror.NewInvalidValuationPolicy(companyID, setting)
	}
}

// CompanyValuationPolicy looks up and validates the policy of a company.
func CompanyValuationPolicy(ctx context.Context, src PolicySource, tenantID, companyID id.ID) (entity.ValuationPolicy, error) {
	setting, err := src.ValuationSetting(ctx, tenantID, companyID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return 0, apperror.NewInvalidValuationPolicy(companyID, -1).
				WithDetail("reason", "company valuation setting is missing")
		}
		return 0, fmt.Errorf("get valuation setting: %w", err)
	}
	return ParsePolicy(companyID, setting)
}

package entity

import (
	"fmt"
	"time"

	"stockledger/internal/core/id"
)

// SubPeriodsPerYear is the number of sub-periods of a fiscal Period.
const SubPeriodsPerYear = 12

// Period is a fiscal year of a tenant/company.
// SpaceMonth shifts calendar months onto sub-period ordinals: a fiscal year
// starting in April has SpaceMonth = 3.
type Period struct {
	ID         id.ID     `db:"id" json:"id"`
	TenantID   id.ID     `db:"tenant_id" json:"tenantId"`
	CompanyID  id.ID     `db:"company_id" json:"companyId"`
	FiscalYear int       `db:"fiscal_year" json:"fiscalYear"`
	SpaceMonth int       `db:"space_month" json:"spaceMonth"`
	Title      string    `db:"title" json:"title"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// SubPeriod is one accounting month of a Period, ordinal 1..12.
type SubPeriod struct {
	ID       id.ID  `db:"id" json:"id"`
	PeriodID id.ID  `db:"period_id" json:"periodId"`
	Order    int    `db:"sub_order" json:"order"`
	Title    string `db:"title" json:"title"`
	// Locked forbids new postings into the sub-period.
	Locked    bool      `db:"locked" json:"locked"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// IsOpen reports whether the sub-period accepts postings.
func (s *SubPeriod) IsOpen() bool {
	return !s.Locked
}

// FiscalPosition is a resolved (Period, SubPeriod) pair.
type FiscalPosition struct {
	Period    Period    `json:"period"`
	SubPeriod SubPeriod `json:"subPeriod"`
}

func (p FiscalPosition) String() string {
	return fmt.Sprintf("%d/%02d", p.Period.FiscalYear, p.SubPeriod.Order)
}

// NewPeriod creates a Period with its twelve SubPeriods.
func NewPeriod(tenantID, companyID id.ID, fiscalYear, spaceMonth int) (Period, []SubPeriod) {
	now := time.Now().UTC()
	p := Period{
		ID:         id.New(),
		TenantID:   tenantID,
		CompanyID:  companyID,
		FiscalYear: fiscalYear,
		SpaceMonth: spaceMonth,
		Title:      fmt.Sprintf("FY%d", fiscalYear),
		CreatedAt:  now,
	}
	subs := make([]SubPeriod, 0, SubPeriodsPerYear)
	for order := 1; order <= SubPeriodsPerYear; order++ {
		subs = append(subs, SubPeriod{
			ID:        id.New(),
			PeriodID:  p.ID,
			Order:     order,
			Title:     fmt.Sprintf("FY%d-%02d", fiscalYear, order),
			CreatedAt: now,
		})
	}
	return p, subs
}

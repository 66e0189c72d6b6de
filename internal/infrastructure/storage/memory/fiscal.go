package memory

import (
	"context"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/fiscal"
)

var _ fiscal.Repository = (*Store)(nil)

// GetPeriod returns the Period of a company for a fiscal year.
func (s *Store) GetPeriod(_ context.Context, tenantID, companyID id.ID, fiscalYear int) (*entity.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	periodID, ok := s.st.periodIdx[periodKey{tenantID: tenantID, companyID: companyID, fiscalYear: fiscalYear}]
	if !ok {
		return nil, apperror.NewNotFound("Period", fiscalYear)
	}
	p := s.st.periods[periodID]
	return &p, nil
}

// GetSubPeriod returns the SubPeriod with the given ordinal.
func (s *Store) GetSubPeriod(_ context.Context, periodID id.ID, order int) (*entity.SubPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subID, ok := s.st.subIdx[subPeriodKey{periodID: periodID, order: order}]
	if !ok {
		return nil, apperror.NewNotFound("SubPeriod", order)
	}
	sp := s.st.subPeriods[subID]
	return &sp, nil
}

// CreatePeriod stores a Period and its SubPeriods.
func (s *Store) CreatePeriod(_ context.Context, period *entity.Period, subPeriods []entity.SubPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := periodKey{tenantID: period.TenantID, companyID: period.CompanyID, fiscalYear: period.FiscalYear}
	if _, dup := s.st.periodIdx[pk]; dup {
		return apperror.NewValidation("fiscal year already exists").
			WithDetail("fiscal_year", period.FiscalYear)
	}
	s.st.periods[period.ID] = *period
	s.st.periodIdx[pk] = period.ID
	for _, sp := range subPeriods {
		s.st.subPeriods[sp.ID] = sp
		s.st.subIdx[subPeriodKey{periodID: sp.PeriodID, order: sp.Order}] = sp.ID
	}
	return nil
}

// SetSubPeriodLocked opens or locks a SubPeriod for posting.
func (s *Store) SetSubPeriodLocked(_ context.Context, subPeriodID id.ID, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.st.subPeriods[subPeriodID]
	if !ok {
		return apperror.NewNotFound("SubPeriod", subPeriodID)
	}
	sp.Locked = locked
	s.st.subPeriods[subPeriodID] = sp
	return nil
}

// DeleteSubPeriod removes a SubPeriod. Used to model an incomplete calendar.
func (s *Store) DeleteSubPeriod(_ context.Context, periodID id.ID, order int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := subPeriodKey{periodID: periodID, order: order}
	if subID, ok := s.st.subIdx[sk]; ok {
		delete(s.st.subPeriods, subID)
		delete(s.st.subIdx, sk)
	}
}

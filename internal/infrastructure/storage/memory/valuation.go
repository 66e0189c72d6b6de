package memory

import (
	"context"
	"sort"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/registers/valuation"
)

var (
	_ valuation.Repository   = (*Store)(nil)
	_ valuation.PolicySource = (*Store)(nil)
)

// InsertLogs stores new movement rows. A second row with the same
// (tenant, document, log order) is rejected as a concurrent posting.
func (s *Store) InsertLogs(_ context.Context, rows []*entity.StockMovementLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		pk := postingKey{tenantID: r.TenantID, documentID: r.DocumentID, logOrder: r.LogOrder}
		if _, dup := s.st.postings[pk]; dup {
			return apperror.NewConcurrentModification("StockMovementLog", r.DocumentID)
		}
	}
	for _, r := range rows {
		s.st.logs[r.ID] = *r
		s.st.logSeq = append(s.st.logSeq, r.ID)
		s.st.postings[postingKey{tenantID: r.TenantID, documentID: r.DocumentID, logOrder: r.LogOrder}] = r.ID
	}
	return nil
}

// SaveValuation writes valuation fields of a row exactly once.
func (s *Store) SaveValuation(_ context.Context, row *entity.StockMovementLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.st.logs[row.ID]
	if !ok {
		return apperror.NewNotFound("StockMovementLog", row.ID)
	}
	if stored.Valued {
		return apperror.NewConcurrentModification("StockMovementLog", row.ID)
	}

	stored.Cost, stored.Value = row.Cost, row.Value
	stored.Valued, stored.Policy = row.Valued, row.Policy
	stored.CurrentQuantity, stored.CurrentCost, stored.CurrentValue = row.CurrentQuantity, row.CurrentCost, row.CurrentValue
	stored.PeriodicCurrentQuantity, stored.PeriodicCurrentCost, stored.PeriodicCurrentValue = row.PeriodicCurrentQuantity, row.PeriodicCurrentCost, row.PeriodicCurrentValue
	s.st.logs[row.ID] = stored
	return nil
}

// GetLog returns a movement row by id.
func (s *Store) GetLog(_ context.Context, logID id.ID) (*entity.StockMovementLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.st.logs[logID]
	if !ok {
		return nil, apperror.NewNotFound("StockMovementLog", logID)
	}
	return &row, nil
}

// ListLogsByDocument returns the rows of a document ordered by LogOrder.
func (s *Store) ListLogsByDocument(_ context.Context, tenantID, documentID id.ID) ([]*entity.StockMovementLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.StockMovementLog
	for _, logID := range s.st.logSeq {
		row := s.st.logs[logID]
		if row.TenantID == tenantID && row.DocumentID == documentID {
			out = append(out, &row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LogOrder < out[j].LogOrder })
	return out, nil
}

// ListMovements returns history of a key ordered by posting date, then LogOrder.
func (s *Store) ListMovements(_ context.Context, key entity.StockKey, filter valuation.MovementFilter) ([]*entity.StockMovementLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.StockMovementLog
	for _, logID := range s.st.logSeq {
		row := s.st.logs[logID]
		if row.Key() != key {
			continue
		}
		if filter.Direction != nil && row.Direction != *filter.Direction {
			continue
		}
		if filter.FromDate != nil && row.PostedAt.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && row.PostedAt.After(*filter.ToDate) {
			continue
		}
		out = append(out, &row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.Before(out[j].PostedAt)
		}
		return out[i].LogOrder < out[j].LogOrder
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetBalance returns the balance row of a key in a sub-period.
func (s *Store) GetBalance(_ context.Context, key entity.StockKey, periodID, subPeriodID id.ID) (*entity.ProductWarehouseBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balanceID, ok := s.st.balanceIdx[balanceKey{key: key, periodID: periodID, subPeriodID: subPeriodID}]
	if !ok {
		return nil, apperror.NewNotFound("ProductWarehouseBalance", key.LockKey())
	}
	b := s.st.balances[balanceID]
	return &b, nil
}

// GetBalanceByID returns a balance row by id.
func (s *Store) GetBalanceByID(_ context.Context, balanceID id.ID) (*entity.ProductWarehouseBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.st.balances[balanceID]
	if !ok {
		return nil, apperror.NewNotFound("ProductWarehouseBalance", balanceID)
	}
	return &b, nil
}

// InsertBalance creates a balance row; the sub-period key must be unused.
func (s *Store) InsertBalance(_ context.Context, b *entity.ProductWarehouseBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := balanceKey{key: b.Key(), periodID: b.PeriodID, subPeriodID: b.SubPeriodID}
	if _, dup := s.st.balanceIdx[bk]; dup {
		return apperror.NewConcurrentModification("ProductWarehouseBalance", b.ID)
	}
	s.st.balances[b.ID] = *b
	s.st.balanceIdx[bk] = b.ID
	return nil
}

// UpdateBalance overwrites an existing balance row.
func (s *Store) UpdateBalance(_ context.Context, b *entity.ProductWarehouseBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.balances[b.ID]; !ok {
		return apperror.NewNotFound("ProductWarehouseBalance", b.ID)
	}
	s.st.balances[b.ID] = *b
	return nil
}

// ListOpenBalances returns open balances of a sub-period ordered by id.
func (s *Store) ListOpenBalances(_ context.Context, tenantID, periodID, subPeriodID id.ID) ([]*entity.ProductWarehouseBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.ProductWarehouseBalance
	for _, b := range s.st.balances {
		if b.TenantID == tenantID && b.PeriodID == periodID && b.SubPeriodID == subPeriodID && !b.Closed {
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return id.Compare(out[i].ID, out[j].ID) < 0 })
	return out, nil
}

// GetPointer returns the latest pointer of a key.
func (s *Store) GetPointer(_ context.Context, key entity.StockKey) (*entity.LatestPointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.st.pointers[key]
	if !ok {
		return nil, apperror.NewNotFound("LatestPointer", key.LockKey())
	}
	return &p, nil
}

// UpsertPointer creates or overwrites the latest pointer of a key.
func (s *Store) UpsertPointer(_ context.Context, p *entity.LatestPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.pointers[p.Key()] = *p
	return nil
}

// SetValuationSetting stores the raw valuation setting of a company.
func (s *Store) SetValuationSetting(_ context.Context, tenantID, companyID id.ID, setting int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.settings[companyKey{tenantID: tenantID, companyID: companyID}] = setting
	return nil
}

// ValuationSetting returns the raw valuation setting of a company.
func (s *Store) ValuationSetting(_ context.Context, tenantID, companyID id.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.st.settings[companyKey{tenantID: tenantID, companyID: companyID}]
	if !ok {
		return 0, apperror.NewNotFound("CompanySetting", companyID)
	}
	return v, nil
}

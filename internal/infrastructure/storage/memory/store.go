// Package memory provides an in-memory implementation of every ledger port.
// Used by tests and local development; state is lost on exit.
package memory

import (
	"context"
	"maps"
	"sync"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/event"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/audit"
)

type balanceKey struct {
	key         entity.StockKey
	periodID    id.ID
	subPeriodID id.ID
}

type periodKey struct {
	tenantID   id.ID
	companyID  id.ID
	fiscalYear int
}

type subPeriodKey struct {
	periodID id.ID
	order    int
}

type companyKey struct {
	tenantID  id.ID
	companyID id.ID
}

type postingKey struct {
	tenantID   id.ID
	documentID id.ID
	logOrder   int
}

// state is everything a transaction may roll back.
type state struct {
	logs       map[id.ID]entity.StockMovementLog
	logSeq     []id.ID
	postings   map[postingKey]id.ID
	balances   map[id.ID]entity.ProductWarehouseBalance
	balanceIdx map[balanceKey]id.ID
	pointers   map[entity.StockKey]entity.LatestPointer

	periods    map[id.ID]entity.Period
	periodIdx  map[periodKey]id.ID
	subPeriods map[id.ID]entity.SubPeriod
	subIdx     map[subPeriodKey]id.ID
	settings   map[companyKey]int

	events []event.Event
	audits []audit.Entry
}

func newState() state {
	return state{
		logs:       make(map[id.ID]entity.StockMovementLog),
		postings:   make(map[postingKey]id.ID),
		balances:   make(map[id.ID]entity.ProductWarehouseBalance),
		balanceIdx: make(map[balanceKey]id.ID),
		pointers:   make(map[entity.StockKey]entity.LatestPointer),
		periods:    make(map[id.ID]entity.Period),
		periodIdx:  make(map[periodKey]id.ID),
		subPeriods: make(map[id.ID]entity.SubPeriod),
		subIdx:     make(map[subPeriodKey]id.ID),
		settings:   make(map[companyKey]int),
	}
}

func (s state) clone() state {
	return state{
		logs:       maps.Clone(s.logs),
		logSeq:     append([]id.ID(nil), s.logSeq...),
		postings:   maps.Clone(s.postings),
		balances:   maps.Clone(s.balances),
		balanceIdx: maps.Clone(s.balanceIdx),
		pointers:   maps.Clone(s.pointers),
		periods:    maps.Clone(s.periods),
		periodIdx:  maps.Clone(s.periodIdx),
		subPeriods: maps.Clone(s.subPeriods),
		subIdx:     maps.Clone(s.subIdx),
		settings:   maps.Clone(s.settings),
		events:     append([]event.Event(nil), s.events...),
		audits:     append([]audit.Entry(nil), s.audits...),
	}
}

// Store keeps ledger state in maps.
//
// Transactions are serialized and rolled back by restoring a snapshot taken
// at begin. Reads outside a transaction may observe uncommitted writes.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

var _ tx.Manager = (*Store)(nil)

type txKey struct{}

// RunInTransaction executes fn atomically. Nested calls reuse the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// ReadOnly executes fn in a transaction.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.RunInTransaction(ctx, fn)
}

// Publish appends an event to the in-memory outbox.
func (s *Store) Publish(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events = append(s.st.events, e)
	return nil
}

// PublishBatch appends events to the in-memory outbox.
func (s *Store) PublishBatch(_ context.Context, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events = append(s.st.events, events...)
	return nil
}

// Events returns published events in order.
func (s *Store) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.st.events...)
}

// Record appends an audit entry.
func (s *Store) Record(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.audits = append(s.st.audits, entry)
	return nil
}

// AuditEntries returns recorded audit entries in order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.st.audits...)
}

var (
	_ event.Publisher = (*Store)(nil)
	_ audit.Recorder  = (*Store)(nil)
)

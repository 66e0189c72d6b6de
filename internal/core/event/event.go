// Package event defines domain events emitted by the ledger.
// Events are written to the transactional outbox inside the posting transaction
// and relayed by the worker after commit.
package event

import (
	"context"

	"stockledger/internal/core/id"
)

// Event types.
const (
	TypeStockMovementsValued = "StockMovementsValued"
	TypeSubPeriodClosed      = "SubPeriodClosed"
	TypeBalanceReopened      = "BalanceReopened"
)

// Aggregate types.
const (
	AggregateDocument  = "FinalizedDocument"
	AggregateSubPeriod = "SubPeriod"
	AggregateBalance   = "ProductWarehouseBalance"
)

// Event is a domain event to be published via outbox.
type Event struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// Publisher writes events within the current transaction.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishBatch(ctx context.Context, events []Event) error
}

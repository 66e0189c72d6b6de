// Package tx provides transaction management abstractions.
// Ledger services depend on these interfaces; the implementations live in
// infrastructure/storage/postgres and infrastructure/storage/memory.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
//
// One finalized document is recorded in exactly one transaction: either all of
// its movement rows, balances and pointers commit, or none of them do.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager extends Manager with read-only transaction support.
// Balance queries use it so that a reader never observes half of a posting.
type ReadOnlyManager interface {
	Manager

	// ReadOnly executes fn in a read-only transaction.
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// BatchInserter runs bulk statements in the transaction of the context.
type BatchInserter struct {
	txManager *TxManager
}

// NewBatchInserter creates a new batch inserter.
func NewBatchInserter(txManager *TxManager) *BatchInserter {
	return &BatchInserter{txManager: txManager}
}

// CopyRows bulk inserts rows with the COPY protocol. Each row holds values in
// column order. COPY needs a transaction so that a failed batch leaves nothing.
func (b *BatchInserter) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if !b.txManager.InTransaction(ctx) {
		return 0, fmt.Errorf("copy into %s requires a transaction", table)
	}
	n, err := b.txManager.Querier(ctx).CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// Statement is one queued statement of a batch.
type Statement struct {
	SQL  string
	Args []any
}

// Exec sends statements in a single round-trip and checks every result.
func (b *BatchInserter) Exec(ctx context.Context, statements []Statement) error {
	if len(statements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range statements {
		batch.Queue(s.SQL, s.Args...)
	}

	results := b.txManager.Querier(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for i := range statements {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return nil
}

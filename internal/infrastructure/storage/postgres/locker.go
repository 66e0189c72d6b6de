package postgres

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/registers/valuation"
	"stockledger/pkg/logger"
)

// AdvisoryLocker takes transaction-scoped advisory locks. The locks are
// released by PostgreSQL when the transaction ends, so the release function
// is a no-op.
type AdvisoryLocker struct {
	txManager *TxManager
	attempts  int
	backoff   time.Duration
}

var _ valuation.KeyLocker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker creates a locker that tries each key up to attempts times.
func NewAdvisoryLocker(txManager *TxManager, attempts int, backoff time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{
		txManager: txManager,
		attempts:  max(attempts, 1),
		backoff:   backoff,
	}
}

// Lock acquires keys in order inside the transaction of ctx.
func (l *AdvisoryLocker) Lock(ctx context.Context, keys []string) (func(context.Context), error) {
	if !l.txManager.InTransaction(ctx) {
		return nil, fmt.Errorf("advisory locks require a transaction")
	}
	for _, key := range keys {
		if err := l.take(ctx, key); err != nil {
			return nil, err
		}
	}
	return func(context.Context) {}, nil
}

func (l *AdvisoryLocker) take(ctx context.Context, key string) error {
	q := l.txManager.Querier(ctx)
	for attempt := 1; ; attempt++ {
		var ok bool
		err := q.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))", key).Scan(&ok)
		if err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, MapError(err))
		}
		if ok {
			return nil
		}

		if attempt >= l.attempts {
			return apperror.NewConcurrentModification("lock", key).WithDetail("lock_attempts", attempt)
		}
		logger.Debug(ctx, "lock busy, waiting", "key", key, "attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

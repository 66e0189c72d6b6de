package memory

import (
	"context"
	"sync"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/registers/valuation"
)

// Locker is an in-process KeyLocker with bounded try-lock retries.
type Locker struct {
	mu       sync.Mutex
	held     map[string]bool
	attempts int
	backoff  time.Duration

	// failures makes the next Lock calls fail with a conflict.
	failures int
	acquired [][]string
}

var _ valuation.KeyLocker = (*Locker)(nil)

// NewLocker creates a locker that tries each key up to attempts times.
func NewLocker(attempts int, backoff time.Duration) *Locker {
	return &Locker{
		held:     make(map[string]bool),
		attempts: max(attempts, 1),
		backoff:  backoff,
	}
}

// FailNext makes the next n Lock calls fail with CONCURRENT_MODIFICATION.
func (l *Locker) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
}

// Acquired returns the key sets of successful Lock calls in order.
func (l *Locker) Acquired() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.acquired...)
}

// Lock takes keys in order; on contention it releases what it holds.
func (l *Locker) Lock(ctx context.Context, keys []string) (func(context.Context), error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, apperror.NewConcurrentModification("lock", keys)
	}
	l.mu.Unlock()

	taken := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.take(ctx, key); err != nil {
			l.release(taken)
			return nil, err
		}
		taken = append(taken, key)
	}

	l.mu.Lock()
	l.acquired = append(l.acquired, append([]string(nil), keys...))
	l.mu.Unlock()

	return func(context.Context) { l.release(taken) }, nil
}

func (l *Locker) take(ctx context.Context, key string) error {
	for attempt := 1; ; attempt++ {
		l.mu.Lock()
		if !l.held[key] {
			l.held[key] = true
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if attempt >= l.attempts {
			return apperror.NewConcurrentModification("lock", key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

func (l *Locker) release(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		delete(l.held, k)
	}
}

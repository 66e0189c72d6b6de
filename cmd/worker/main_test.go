package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/pkg/logger"
)

type fakeRelay struct {
	mu      sync.Mutex
	batches []int
	calls   int
	err     error
}

func (r *fakeRelay) ProcessBatch(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	if len(r.batches) == 0 {
		return 0, nil
	}
	n := r.batches[0]
	r.batches = r.batches[1:]
	return n, nil
}

func (r *fakeRelay) MoveToDLQ(context.Context) (int64, error) { return 0, nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func TestWorker_DrainStopsOnEmptyBatch(t *testing.T) {
	relay := &fakeRelay{batches: []int{100, 100, 7}}
	w := NewWorker(relay, time.Second, testLogger(t))

	w.drain(context.Background())

	assert.Equal(t, 4, relay.calls)
}

func TestWorker_DrainStopsOnError(t *testing.T) {
	relay := &fakeRelay{err: errors.New("connection reset")}
	w := NewWorker(relay, time.Second, testLogger(t))

	w.drain(context.Background())

	assert.Equal(t, 1, relay.calls)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	relay := &fakeRelay{}
	w := NewWorker(relay, time.Millisecond, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Positive(t, relay.calls)
}

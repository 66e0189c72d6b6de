// Package main is the entry point for the stockledger outbox worker.
// It relays ledger events from sys_outbox to a Redis stream or to the log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stockledger/internal/config"
	"stockledger/internal/infrastructure/lock"
	"stockledger/internal/infrastructure/messaging"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

const dlqInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting stockledger worker")

	poolCfg := postgres.DefaultPoolConfig(cfg.DB.URL)
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	var handler postgres.OutboxHandler = messaging.LogHandler{}
	if cfg.Outbox.Stream != "" {
		rdb, err := lock.NewClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer rdb.Close()
		handler = messaging.NewStreamHandler(rdb, cfg.Outbox.Stream)
		log.Infow("relaying events to redis stream", "stream", cfg.Outbox.Stream)
	}

	relay := postgres.NewOutboxRelay(postgres.NewTxManager(pool), cfg.Outbox.BatchSize, handler)
	worker := NewWorker(relay, cfg.Outbox.PollInterval, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Relay is the outbox relay driven by the worker.
type Relay interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
}

// Worker polls the outbox until its context is cancelled.
type Worker struct {
	relay        Relay
	pollInterval time.Duration
	log          *logger.Logger
}

func NewWorker(relay Relay, pollInterval time.Duration, log *logger.Logger) *Worker {
	return &Worker{
		relay:        relay,
		pollInterval: pollInterval,
		log:          log.WithComponent("outbox"),
	}
}

// Run drains due messages on every tick and moves failed ones to the DLQ.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	dlqTicker := time.NewTicker(dlqInterval)
	defer dlqTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		case <-dlqTicker.C:
			w.moveFailed(ctx)
		}
	}
}

// drain processes batches until one delivers nothing.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			w.log.Errorw("outbox batch failed", "error", err)
			return
		}
		if n > 0 {
			w.log.Debugw("processed outbox batch", "count", n)
		}
		if n == 0 {
			return
		}
	}
}

func (w *Worker) moveFailed(ctx context.Context) {
	n, err := w.relay.MoveToDLQ(ctx)
	if err != nil {
		w.log.Errorw("failed to move messages to DLQ", "error", err)
		return
	}
	if n > 0 {
		w.log.Warnw("moved failed messages to DLQ", "count", n)
	}
}

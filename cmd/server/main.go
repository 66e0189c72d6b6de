// Package main is the entry point for the stockledger API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"stockledger/internal/config"
	"stockledger/internal/domain/fiscal"
	"stockledger/internal/domain/registers/valuation"
	v1 "stockledger/internal/infrastructure/http/v1"
	"stockledger/internal/infrastructure/lock"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/fiscal_repo"
	"stockledger/internal/infrastructure/storage/postgres/register_repo"
	"stockledger/pkg/logger"
)

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

	ctx := logger.WithLogger(context.Background(), log)
	log.Info("starting stockledger server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DB.URL)
	poolCfg.MaxConns = cfg.DB.MaxConns
	poolCfg.MinConns = cfg.DB.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.Lock.Backend == config.LockBackendRedis {
		rdb, err = lock.NewClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer rdb.Close()
	}

	// --- Ledger ---
	ledger, err := newLedger(cfg, pool, rdb)
	if err != nil {
		log.Fatalw("failed to build ledger", "error", err)
	}
	log.Infow("ledger ready",
		"lock_backend", cfg.Lock.Backend,
		"posting_attempts", cfg.Posting.Attempts,
	)

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Ledger:      ledger,
		DB:          pool,
		Logger:      log,
		Development: cfg.App.Development(),
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	pool.LogStats(ctx)
	log.Info("server stopped")
}

// newLedger wires the valuation ledger on PostgreSQL. rdb is used only by
// the redis lock backend.
func newLedger(cfg config.Config, pool *postgres.Pool, rdb redis.UniversalClient) (*valuation.Ledger, error) {
	txManager := postgres.NewTxManager(pool)

	auditor, err := postgres.NewAuditService(txManager)
	if err != nil {
		return nil, err
	}

	var locker valuation.KeyLocker
	switch cfg.Lock.Backend {
	case config.LockBackendRedis:
		locker = lock.NewRedisLocker(rdb, lock.Config{
			TTL:      cfg.Lock.TTL,
			Attempts: cfg.Lock.Attempts,
			Backoff:  cfg.Lock.Backoff,
		})
	default:
		locker = postgres.NewAdvisoryLocker(txManager, cfg.Lock.Attempts, cfg.Lock.Backoff)
	}

	return valuation.NewLedger(valuation.LedgerConfig{
		Repo:      register_repo.NewValuationRepo(txManager),
		Policies:  fiscal_repo.NewSettingsRepo(txManager),
		Calendar:  fiscal.NewCalendar(fiscal_repo.NewCalendarRepo(txManager)),
		TxManager: txManager,
		Locker:    locker,
		Publisher: postgres.NewOutboxPublisher(txManager),
		Auditor:   auditor,
		Retry: valuation.RetryConfig{
			Attempts: cfg.Posting.Attempts,
			Backoff:  cfg.Posting.Backoff,
		},
	}), nil
}

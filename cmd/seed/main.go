// Package main provides a CLI tool that prepares a database for the ledger:
// it applies the schema, creates a fiscal year with its sub-periods and sets
// the valuation policy of a company.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"stockledger/internal/config"
	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/fiscal"
	"stockledger/internal/domain/registers/valuation"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/fiscal_repo"
	"stockledger/pkg/logger"
)

// seedConfig is read from SEED_* environment variables.
type seedConfig struct {
	TenantID   id.ID
	CompanyID  id.ID
	FiscalYear int
	SpaceMonth int
	Policy     entity.ValuationPolicy
}

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	seed, err := loadSeedConfig()
	if err != nil {
		log.Fatalw("invalid seed configuration", "error", err)
	}

	ctx := logger.WithLogger(context.Background(), log)

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DB.URL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalw("failed to apply schema", "error", err)
	}

	txManager := postgres.NewTxManager(pool)

	if err := seedFiscalYear(ctx, txManager, seed, log); err != nil {
		log.Fatalw("failed to seed fiscal year", "error", err)
	}

	settings := fiscal_repo.NewSettingsRepo(txManager)
	if err := settings.SetValuationSetting(ctx, seed.TenantID, seed.CompanyID, int(seed.Policy)); err != nil {
		log.Fatalw("failed to set valuation policy", "error", err)
	}

	log.Infow("seeding completed successfully",
		"tenant_id", seed.TenantID,
		"company_id", seed.CompanyID,
		"fiscal_year", seed.FiscalYear,
		"policy", seed.Policy.String(),
	)
}

func seedFiscalYear(ctx context.Context, txManager *postgres.TxManager, seed seedConfig, log *logger.Logger) error {
	calendar := fiscal.NewCalendar(fiscal_repo.NewCalendarRepo(txManager))

	_, err := calendar.Position(ctx, seed.TenantID, seed.CompanyID, seed.FiscalYear, 1)
	if err == nil {
		log.Infow("fiscal year already exists", "fiscal_year", seed.FiscalYear)
		return nil
	}
	if !apperror.HasCode(err, apperror.CodePeriodNotFound) {
		return err
	}

	period, err := calendar.CreateYear(ctx, seed.TenantID, seed.CompanyID, seed.FiscalYear, seed.SpaceMonth)
	if err != nil {
		return err
	}

	log.Infow("fiscal year created",
		"period_id", period.ID,
		"fiscal_year", period.FiscalYear,
		"space_month", period.SpaceMonth,
	)
	return nil
}

func loadSeedConfig() (seedConfig, error) {
	var cfg seedConfig
	var err error

	if cfg.TenantID, err = envID("SEED_TENANT_ID"); err != nil {
		return cfg, err
	}
	if cfg.CompanyID, err = envID("SEED_COMPANY_ID"); err != nil {
		return cfg, err
	}
	if cfg.FiscalYear, err = envInt("SEED_FISCAL_YEAR", time.Now().Year()); err != nil {
		return cfg, err
	}
	if cfg.SpaceMonth, err = envInt("SEED_SPACE_MONTH", 0); err != nil {
		return cfg, err
	}

	setting, err := envInt("SEED_VALUATION_POLICY", int(entity.PolicyPerpetual))
	if err != nil {
		return cfg, err
	}
	if cfg.Policy, err = valuation.ParsePolicy(cfg.CompanyID, setting); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envID reads a UUID variable; an unset variable gets a fresh id.
func envID(key string) (id.ID, error) {
	value := os.Getenv(key)
	if value == "" {
		return id.New(), nil
	}
	parsed, err := id.Parse(value)
	if err != nil {
		return id.Nil(), fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func envInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

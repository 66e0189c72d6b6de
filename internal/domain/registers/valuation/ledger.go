package valuation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/event"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/fiscal"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/valuation")

// LedgerConfig wires the ledger.
type LedgerConfig struct {
	Repo      Repository
	Policies  PolicySource
	Calendar  *fiscal.Calendar
	TxManager tx.Manager
	Locker    KeyLocker
	Publisher event.Publisher
	Auditor   audit.Recorder
	Retry     RetryConfig
}

// Ledger is the entry point of the valuation ledger. It records the stock
// activity of finalized documents and answers balance queries.
type Ledger struct {
	repo      Repository
	policies  PolicySource
	calendar  *fiscal.Calendar
	txManager tx.Manager
	locker    KeyLocker
	publisher event.Publisher
	retry     RetryConfig

	pointers    *PointerIndex
	eventLogger *EventLogger
	updater     *BalanceUpdater
	closing     *ClosingService
}

// NewLedger creates a new ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	pointers := NewPointerIndex(cfg.Repo)
	updater := NewBalanceUpdater(cfg.Repo, pointers, cfg.Auditor, cfg.Publisher)

	return &Ledger{
		repo:        cfg.Repo,
		policies:    cfg.Policies,
		calendar:    cfg.Calendar,
		txManager:   cfg.TxManager,
		locker:      cfg.Locker,
		publisher:   cfg.Publisher,
		retry:       cfg.Retry,
		pointers:    pointers,
		eventLogger: NewEventLogger(cfg.Repo, cfg.Calendar),
		updater:     updater,
		closing:     NewClosingService(cfg.Repo, cfg.Calendar, updater, cfg.Publisher),
	}
}

// Closing returns the period closing service.
func (l *Ledger) Closing() *ClosingService {
	return l.closing
}

// Record logs and values the stock activity of a finalized document.
//
// The whole batch runs in one transaction under exclusive locks of every
// touched (tenant, product, warehouse) key; on conflict it is retried as a
// whole. Recording a document that is already recorded returns its rows
// without side effects.
func (l *Ledger) Record(ctx context.Context, doc entity.FinalizedDocument, events []entity.StockActivity) ([]*entity.StockMovementLog, error) {
	ctx, span := tracer.Start(ctx, "ledger.Record", trace.WithAttributes(
		attribute.String("document.id", doc.ID.String()),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	rows, err := l.record(ctx, doc, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

func (l *Ledger) record(ctx context.Context, doc entity.FinalizedDocument, events []entity.StockActivity) ([]*entity.StockMovementLog, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	for i := range events {
		if err := events[i].Validate(i); err != nil {
			return nil, err
		}
	}
	if len(events) == 0 {
		return nil, nil
	}

	ctx = appctx.WithLedgerScope(ctx, &appctx.LedgerScope{
		TenantID:   doc.TenantID.String(),
		CompanyID:  doc.CompanyID.String(),
		DocumentID: doc.ID.String(),
	})

	policy, err := CompanyValuationPolicy(ctx, l.policies, doc.TenantID, doc.CompanyID)
	if err != nil {
		return nil, err
	}

	keys := LockKeys(doc, events)

	var rows []*entity.StockMovementLog
	err = retry(ctx, l.retry, "record", func(ctx context.Context) error {
		var release func(context.Context)
		err := l.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			r, err := l.locker.Lock(ctx, keys)
			if err != nil {
				return err
			}
			release = r

			rows, err = l.post(ctx, policy, doc, events)
			return err
		})
		// Locks outlive the transaction so that the next holder sees committed rows.
		if release != nil {
			release(context.WithoutCancel(ctx))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// post runs inside the transaction with all keys locked.
func (l *Ledger) post(ctx context.Context, policy entity.ValuationPolicy, doc entity.FinalizedDocument, events []entity.StockActivity) ([]*entity.StockMovementLog, error) {
	existing, err := l.repo.ListLogsByDocument(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("check posting guard: %w", err)
	}
	if len(existing) > 0 {
		logger.Info(ctx, "document already recorded, skipping", "movements", len(existing))
		return existing, nil
	}

	rows, err := l.eventLogger.Log(ctx, doc, events)
	if err != nil {
		return nil, err
	}

	if policy == entity.PolicyPeriodic {
		first := rows[0]
		if _, err := l.closing.EnsurePriorClosed(ctx, doc.TenantID, doc.CompanyID, first.FiscalYear, first.SubPeriodOrder); err != nil {
			return nil, fmt.Errorf("close prior sub-period: %w", err)
		}
	}

	// Valuation is a fold over the batch: strictly in LogOrder.
	ordered := make([]*entity.StockMovementLog, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].LogOrder < ordered[j].LogOrder })

	for _, row := range ordered {
		prev, err := l.pointers.Latest(ctx, row.Key())
		if err != nil {
			return nil, err
		}

		result := Apply(policy, prev.Snapshot(policy), row)
		if result.Clamped {
			logger.Warn(ctx, "outflow exceeds available quantity, balance floored at zero",
				"product_id", row.ProductID,
				"warehouse_id", row.WarehouseID,
				"requested", row.Quantity.String(),
				"shortfall", result.Shortfall.String(),
				"log_order", row.LogOrder,
			)
		}

		if _, err := l.updater.Persist(ctx, policy, doc, row, prev, result); err != nil {
			return nil, err
		}
	}

	err = l.publisher.Publish(ctx, event.Event{
		AggregateType: event.AggregateDocument,
		AggregateID:   doc.ID,
		EventType:     event.TypeStockMovementsValued,
		Payload:       newStockMovementsValued(doc, policy, ordered),
	})
	if err != nil {
		return nil, fmt.Errorf("publish movements valued: %w", err)
	}

	logger.Info(ctx, "stock movements recorded",
		"count", len(rows),
		"policy", policy.String(),
		"fiscal_year", rows[0].FiscalYear,
		"sub_period", rows[0].SubPeriodOrder,
	)
	return rows, nil
}

// CloseSubPeriod closes the sub-period (fiscalYear, order) of a company.
func (l *Ledger) CloseSubPeriod(ctx context.Context, tenantID, companyID id.ID, fiscalYear, order int) (int, error) {
	ctx, span := tracer.Start(ctx, "ledger.CloseSubPeriod", trace.WithAttributes(
		attribute.Int("fiscal_year", fiscalYear),
		attribute.Int("sub_period", order),
	))
	defer span.End()

	ctx = appctx.WithLedgerScope(ctx, &appctx.LedgerScope{
		TenantID:  tenantID.String(),
		CompanyID: companyID.String(),
	})

	var closed int
	err := retry(ctx, l.retry, "close", func(ctx context.Context) error {
		return l.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			pos, err := l.calendar.Position(ctx, tenantID, companyID, fiscalYear, order)
			if err != nil {
				return err
			}
			closed, err = l.closing.CloseSubPeriod(ctx, pos)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return closed, nil
}

// SetPostingLock locks or reopens the sub-period (fiscalYear, order) for posting.
func (l *Ledger) SetPostingLock(ctx context.Context, tenantID, companyID id.ID, fiscalYear, order int, locked bool) error {
	return l.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		pos, err := l.calendar.Position(ctx, tenantID, companyID, fiscalYear, order)
		if err != nil {
			return err
		}
		return l.calendar.SetPostingLock(ctx, pos, locked)
	})
}

// CurrentBalance is the latest running balance of a stock key.
type CurrentBalance struct {
	Key      entity.StockKey        `json:"key"`
	Policy   entity.ValuationPolicy `json:"policy"`
	Balance  entity.Balance         `json:"balance"`
	LogID    *id.ID                 `json:"logId,omitempty"`
	PostedAt *time.Time             `json:"postedAt,omitempty"`
}

// GetCurrentBalance returns the running balance of the latest movement of key.
// A key that never moved has balance {0,0,0}. Under periodic valuation cost
// and value of a running balance are zero until the sub-period is closed.
func (l *Ledger) GetCurrentBalance(ctx context.Context, key entity.StockKey) (CurrentBalance, error) {
	latest, err := l.pointers.Latest(ctx, key)
	if err != nil {
		return CurrentBalance{}, err
	}
	if latest == nil {
		return CurrentBalance{Key: key, Balance: entity.ZeroBalance()}, nil
	}
	return CurrentBalance{
		Key:      key,
		Policy:   latest.Log.Policy,
		Balance:  latest.Log.Snapshot(),
		LogID:    &latest.Log.ID,
		PostedAt: &latest.Log.PostedAt,
	}, nil
}

// GetPeriodBalance returns the balance row of key in sub-period (fiscalYear, order).
func (l *Ledger) GetPeriodBalance(ctx context.Context, key entity.StockKey, companyID id.ID, fiscalYear, order int) (*entity.ProductWarehouseBalance, error) {
	pos, err := l.calendar.Position(ctx, key.TenantID, companyID, fiscalYear, order)
	if err != nil {
		return nil, err
	}
	b, err := l.repo.GetBalance(ctx, key, pos.Period.ID, pos.SubPeriod.ID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound(balanceEntity, pos.String()).
				WithDetail("product_id", key.ProductID).
				WithDetail("warehouse_id", key.WarehouseID)
		}
		return nil, fmt.Errorf("get period balance: %w", err)
	}
	return b, nil
}

// History returns movement rows of key ordered by posting date, then LogOrder.
func (l *Ledger) History(ctx context.Context, key entity.StockKey, filter MovementFilter) ([]*entity.StockMovementLog, error) {
	rows, err := l.repo.ListMovements(ctx, key, filter)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return rows, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/event"
	"stockledger/internal/core/id"
	"stockledger/pkg/logger"
)

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxMaxRetries is the number of failed deliveries after which a message
// is marked failed and moved to the dead letter table.
const OutboxMaxRetries = 5

// OutboxMessage is a row of sys_outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"`
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

const insertOutboxSQL = `
	INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// OutboxPublisher writes ledger events to sys_outbox in the current transaction.
type OutboxPublisher struct {
	txManager *TxManager
	batch     *BatchInserter
}

var _ event.Publisher = (*OutboxPublisher)(nil)

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager, batch: NewBatchInserter(txManager)}
}

// Publish writes one event. Must be called inside a transaction.
func (p *OutboxPublisher) Publish(ctx context.Context, e event.Event) error {
	return p.PublishBatch(ctx, []event.Event{e})
}

// PublishBatch writes events in one round-trip. Must be called inside a transaction.
func (p *OutboxPublisher) PublishBatch(ctx context.Context, events []event.Event) error {
	if !p.txManager.InTransaction(ctx) {
		return fmt.Errorf("outbox publish requires a transaction")
	}

	now := time.Now().UTC()
	statements := make([]Statement, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.EventType, err)
		}
		statements = append(statements, Statement{
			SQL:  insertOutboxSQL,
			Args: []any{id.New(), e.AggregateType, e.AggregateID, e.EventType, payload, OutboxStatusPending, now},
		})
	}

	if err := p.batch.Exec(ctx, statements); err != nil {
		return fmt.Errorf("insert outbox messages: %w", err)
	}
	return nil
}

// OutboxHandler delivers one message to downstream consumers.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelay delivers pending outbox messages.
type OutboxRelay struct {
	txManager *TxManager
	batchSize int
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) *OutboxRelay {
	return &OutboxRelay{
		txManager: txManager,
		batchSize: batchSize,
		handler:   handler,
	}
}

// ProcessBatch delivers up to batchSize due messages and returns the number
// delivered. Claimed rows stay locked until the batch commits, so concurrent
// relays never deliver the same message.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	delivered := 0
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.txManager.Querier(ctx)

		var messages []*OutboxMessage
		err := pgxscan.Select(ctx, q, &messages, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, status,
			       retry_count, last_error, next_retry_at, created_at, published_at
			FROM sys_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			ok, err := r.deliver(ctx, q, msg)
			if err != nil {
				return err
			}
			if ok {
				delivered++
			}
		}
		return nil
	})
	return delivered, err
}

// deliver hands msg to the handler and records the outcome. A handler error
// schedules a retry with linear backoff and is not returned.
func (r *OutboxRelay) deliver(ctx context.Context, q Querier, msg *OutboxMessage) (bool, error) {
	handleErr := r.handler.Handle(ctx, msg)
	if handleErr == nil {
		_, err := q.Exec(ctx, `
			UPDATE sys_outbox SET status = $1, published_at = $2 WHERE id = $3`,
			OutboxStatusPublished, time.Now().UTC(), msg.ID)
		if err != nil {
			return false, fmt.Errorf("mark message %s published: %w", msg.ID, err)
		}
		return true, nil
	}

	logger.Warn(ctx, "outbox delivery failed",
		"message_id", msg.ID,
		"event_type", msg.EventType,
		"retry_count", msg.RetryCount,
		"error", handleErr,
	)

	status := OutboxStatusPending
	if msg.RetryCount+1 >= OutboxMaxRetries {
		status = OutboxStatusFailed
	}
	nextRetry := time.Now().UTC().Add(time.Duration(msg.RetryCount+1) * time.Minute)

	_, err := q.Exec(ctx, `
		UPDATE sys_outbox
		SET retry_count = retry_count + 1, last_error = $1, next_retry_at = $2, status = $3
		WHERE id = $4`,
		handleErr.Error(), nextRetry, status, msg.ID)
	if err != nil {
		return false, fmt.Errorf("record failed delivery of %s: %w", msg.ID, err)
	}
	return false, nil
}

// MoveToDLQ moves failed messages to sys_outbox_dlq.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	tag, err := r.txManager.Querier(ctx).Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox
			WHERE status = $1
			RETURNING id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at
		)
		INSERT INTO sys_outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at, failed_at)
		SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at, NOW()
		FROM moved`, OutboxStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}
	return tag.RowsAffected(), nil
}

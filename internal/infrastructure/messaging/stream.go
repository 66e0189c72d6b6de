// Package messaging delivers outbox messages to downstream consumers.
package messaging

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

// DefaultStreamMaxLen caps the stream length, trimmed approximately.
const DefaultStreamMaxLen = 100_000

// StreamHandler appends outbox messages to a Redis stream.
type StreamHandler struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

var _ postgres.OutboxHandler = (*StreamHandler)(nil)

// NewStreamHandler creates a handler writing to stream.
func NewStreamHandler(client redis.UniversalClient, stream string) *StreamHandler {
	return &StreamHandler{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
}

// Handle implements postgres.OutboxHandler.
func (h *StreamHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	entryID, err := h.client.XAdd(ctx, streamArgs(h.stream, h.maxLen, msg)).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", h.stream, err)
	}
	logger.Debug(ctx, "event relayed",
		"stream", h.stream,
		"entry_id", entryID,
		"event_type", msg.EventType,
	)
	return nil
}

func streamArgs(stream string, maxLen int64, msg *postgres.OutboxMessage) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"message_id":     msg.ID.String(),
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateID.String(),
			"payload":        string(msg.Payload),
		},
	}
}

// LogHandler writes outbox messages to the log. Used when no stream is configured.
type LogHandler struct{}

var _ postgres.OutboxHandler = LogHandler{}

// Handle implements postgres.OutboxHandler.
func (LogHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	logger.Info(ctx, "event",
		"message_id", msg.ID,
		"event_type", msg.EventType,
		"aggregate_type", msg.AggregateType,
		"aggregate_id", msg.AggregateID,
		"payload", string(msg.Payload),
	)
	return nil
}

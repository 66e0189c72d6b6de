package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/id"
	"stockledger/internal/infrastructure/storage/postgres"
)

func testMessage() *postgres.OutboxMessage {
	return &postgres.OutboxMessage{
		ID:            id.New(),
		AggregateType: "document",
		AggregateID:   id.New(),
		EventType:     "StockMovementsValued",
		Payload:       []byte(`{"rows":2}`),
		Status:        postgres.OutboxStatusPending,
	}
}

func TestStreamArgs(t *testing.T) {
	msg := testMessage()

	args := streamArgs("ledger-events", 500, msg)

	assert.Equal(t, "ledger-events", args.Stream)
	assert.Equal(t, int64(500), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, msg.ID.String(), values["message_id"])
	assert.Equal(t, msg.EventType, values["event_type"])
	assert.Equal(t, msg.AggregateID.String(), values["aggregate_id"])
	assert.Equal(t, `{"rows":2}`, values["payload"])
}

func TestStreamHandler_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	err := NewStreamHandler(client, "ledger-events").Handle(context.Background(), testMessage())
	assert.ErrorContains(t, err, "xadd ledger-events")
}

func TestLogHandler(t *testing.T) {
	assert.NoError(t, LogHandler{}.Handle(context.Background(), testMessage()))
}

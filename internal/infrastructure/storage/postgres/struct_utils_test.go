package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

type Stamped struct {
	CreatedAt time.Time `db:"created_at"`
}

type sample struct {
	Stamped
	ID      id.ID  `db:"id"`
	Code    string `db:"code"`
	Ignored string `db:"-"`
	Plain   string
}

func TestColumns_FlattensEmbedded(t *testing.T) {
	assert.Equal(t, []string{"created_at", "id", "code"}, Columns[sample]())
}

func TestColumns_Balance(t *testing.T) {
	cols := Columns[entity.ProductWarehouseBalance]()

	for _, want := range []string{
		"id", "opening_quantity", "ending_value", "sum_input_value",
		"periodic_ending_cost", "closed", "closed_at", "latest_log_id",
	} {
		assert.Contains(t, cols, want)
	}
	assert.NotContains(t, cols, "")
}

func TestValues_FollowColumnOrder(t *testing.T) {
	now := time.Now().UTC()
	s := sample{Stamped: Stamped{CreatedAt: now}, ID: id.New(), Code: "X"}

	vals := Values(&s, []string{"code", "id", "missing", "created_at"})
	require.Len(t, vals, 4)
	assert.Equal(t, "X", vals[0])
	assert.Equal(t, s.ID, vals[1])
	assert.Nil(t, vals[2])
	assert.Equal(t, now, vals[3])
}

func TestStructToMap_Log(t *testing.T) {
	row := entity.StockMovementLog{
		ID:        id.New(),
		Direction: entity.DirectionOut,
		Quantity:  types.NewQuantity(4),
		LogOrder:  2,
	}

	m := StructToMap(row)
	assert.Equal(t, row.ID, m["id"])
	assert.Equal(t, entity.DirectionOut, m["direction"])
	assert.Equal(t, 2, m["log_order"])
	assert.True(t, types.NewQuantity(4).Equal(m["quantity"].(types.Quantity)))
}

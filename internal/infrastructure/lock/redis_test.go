package lock

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewRedisLocker_Defaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	l := NewRedisLocker(rdb, Config{TTL: time.Second})
	assert.Equal(t, 1, l.cfg.Attempts)
	assert.Equal(t, "stockledger:lock:stock:t:p:w", l.redisKey("stock:t:p:w"))

	l = NewRedisLocker(rdb, Config{TTL: time.Second, Attempts: 3, Prefix: "x:"})
	assert.Equal(t, 3, l.cfg.Attempts)
	assert.Equal(t, "x:doc:1", l.redisKey("doc:1"))
}

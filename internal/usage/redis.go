package usage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// decrFloor decrements a counter but clamps it at zero, so a double
// decrement can never leave a negative concurrent-connection count.
var decrFloor = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
  redis.call('SET', KEYS[1], '0')
  v = 0
end
return v
`)

// RedisCounters implements Counters on Redis INCR/DECR, the same instance
// that carries the pub/sub fan-out.
type RedisCounters struct {
	rdb redis.UniversalClient
}

// NewRedisCounters wraps an existing Redis client.
func NewRedisCounters(rdb redis.UniversalClient) *RedisCounters {
	return &RedisCounters{rdb: rdb}
}

func (c *RedisCounters) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (c *RedisCounters) Incr(ctx context.Context, key string) (int64, error) {
	v, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return v, nil
}

func (c *RedisCounters) Decr(ctx context.Context, key string) (int64, error) {
	v, err := decrFloor.Run(ctx, c.rdb, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis decr %s: %w", key, err)
	}
	return v, nil
}

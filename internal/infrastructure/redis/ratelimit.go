package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrementWindow opens the window on the first increment only, so later
// increments never extend it.
var incrementWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// CounterStore holds fixed-window rate limit counters.
type CounterStore struct {
	r *RedisClient
}

func NewCounterStore(r *RedisClient) *CounterStore {
	return &CounterStore{r: r}
}

func (c *CounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrementWindow.Run(ctx, c.r.client, []string{key}, window.Milliseconds()).Int64()
}

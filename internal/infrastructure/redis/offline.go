package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// OfflineStore keeps one list per identity. Each push refreshes the list's
// retention TTL and trims it to the newest maxLen entries.
type OfflineStore struct {
	r      *RedisClient
	ttl    time.Duration
	maxLen int
}

func NewOfflineStore(r *RedisClient, ttl time.Duration, maxLen int) *OfflineStore {
	return &OfflineStore{r: r, ttl: ttl, maxLen: maxLen}
}

func (o *OfflineStore) Push(ctx context.Context, identityID string, event []byte) (int, error) {
	key := offlineKey(identityID)
	var length *redis.IntCmd
	_, err := o.r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		length = pipe.RPush(ctx, key, event)
		pipe.LTrim(ctx, key, int64(-o.maxLen), -1)
		pipe.Expire(ctx, key, o.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	dropped := int(length.Val()) - o.maxLen
	if dropped < 0 {
		dropped = 0
	}
	return dropped, nil
}

// PopAll reads and deletes the list inside one MULTI block.
func (o *OfflineStore) PopAll(ctx context.Context, identityID string) ([][]byte, error) {
	key := offlineKey(identityID)
	var items *redis.StringSliceCmd
	_, err := o.r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	events := make([][]byte, 0, len(items.Val()))
	for _, item := range items.Val() {
		events = append(events, []byte(item))
	}
	return events, nil
}

func (o *OfflineStore) PushFront(ctx context.Context, identityID string, events [][]byte) error {
	if len(events) == 0 {
		return nil
	}
	key := offlineKey(identityID)
	// LPUSH prepends one by one, so push in reverse to keep the original order.
	values := make([]interface{}, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		values = append(values, events[i])
	}
	_, err := o.r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-o.maxLen), -1)
		pipe.Expire(ctx, key, o.ttl)
		return nil
	})
	return err
}

package redis

import (
	"context"
	"fmt"
)

func presenceKey(identityID string) string {
	return fmt.Sprintf("presence:%s:connections", identityID)
}

func offlineKey(identityID string) string {
	return fmt.Sprintf("offline:%s:events", identityID)
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

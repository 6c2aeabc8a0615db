package redis

import (
	"context"
	"time"
)

// PresenceStore keeps one set of connection ids per identity. Redis removes a
// set when its last member goes, so there are no empty entries. The TTL bounds
// how long connections of a crashed process linger; live connections refresh it.
type PresenceStore struct {
	r   *RedisClient
	ttl time.Duration
}

func NewPresenceStore(r *RedisClient, ttl time.Duration) *PresenceStore {
	return &PresenceStore{r: r, ttl: ttl}
}

func (p *PresenceStore) AddConnection(ctx context.Context, identityID, connectionID string) (int, error) {
	key := presenceKey(identityID)
	pipe := p.r.client.TxPipeline()
	pipe.SAdd(ctx, key, connectionID)
	pipe.Expire(ctx, key, p.ttl)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (p *PresenceStore) RemoveConnection(ctx context.Context, identityID, connectionID string) (int, error) {
	key := presenceKey(identityID)
	pipe := p.r.client.TxPipeline()
	pipe.SRem(ctx, key, connectionID)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (p *PresenceStore) IsOnline(ctx context.Context, identityID string) (bool, error) {
	n, err := p.r.client.SCard(ctx, presenceKey(identityID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PresenceStore) Touch(ctx context.Context, identityID string) error {
	return p.r.client.Expire(ctx, presenceKey(identityID), p.ttl).Err()
}

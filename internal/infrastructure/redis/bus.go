package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"realtime-ws/internal/fanout"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
)

// Bus is a fanout.Bus over Redis pub/sub. Close closes the client.
type Bus struct {
	r       *RedisClient
	channel string
	log     zerolog.Logger
}

func NewBus(r *RedisClient, channel string, log zerolog.Logger) *Bus {
	return &Bus{r: r, channel: channel, log: observability.Component(log, "redis_bus")}
}

func (b *Bus) Publish(ctx context.Context, env fanout.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.r.client.Publish(ctx, b.channel, data).Err()
}

func (b *Bus) Subscribe(ctx context.Context, handle func(fanout.Envelope)) error {
	sub := b.r.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env fanout.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Error().Err(err).Msg("dropping malformed fanout envelope")
					continue
				}
				handle(env)
			}
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	return b.r.Close()
}

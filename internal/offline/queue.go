// Package offline buffers events for identities without an open connection and
// replays them on reconnect.
package offline

import (
	"context"
	"fmt"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
)

// Store holds one ordered queue per identity. Push drops the oldest entries
// once a queue exceeds its max length and reports how many it dropped. PopAll
// returns and clears a queue in one atomic step, so an entry pushed
// concurrently either lands in the returned slice or stays for the next pop.
type Store interface {
	Push(ctx context.Context, identityID string, event []byte) (dropped int, err error)
	PopAll(ctx context.Context, identityID string) ([][]byte, error)
	// PushFront puts events back at the head of the queue, preserving their order.
	PushFront(ctx context.Context, identityID string, events [][]byte) error
}

type Queue struct {
	store Store
	log   zerolog.Logger
}

func NewQueue(store Store, log zerolog.Logger) *Queue {
	return &Queue{store: store, log: observability.Component(log, "offline")}
}

func (q *Queue) Enqueue(ctx context.Context, identityID string, event []byte) error {
	if identityID == "" {
		return fmt.Errorf("%w: identity id required", domain.ErrValidation)
	}
	dropped, err := q.store.Push(ctx, identityID, event)
	if err != nil {
		return fmt.Errorf("%w: enqueue offline event: %v", domain.ErrInternal, err)
	}
	observability.OfflineEnqueued.Inc()
	if dropped > 0 {
		observability.OfflineDropped.Add(float64(dropped))
		q.log.Warn().Str("identity_id", identityID).Int("dropped", dropped).Msg("offline queue full, dropped oldest events")
	}
	return nil
}

// Drain pops the identity's whole queue and hands each event to deliver in
// insertion order. If deliver fails, the undelivered rest is put back at the
// head of the queue for the next connect.
func (q *Queue) Drain(ctx context.Context, identityID string, deliver func([]byte) error) (int, error) {
	events, err := q.store.PopAll(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("%w: drain offline queue: %v", domain.ErrInternal, err)
	}

	for i, event := range events {
		if err := deliver(event); err != nil {
			rest := events[i:]
			if perr := q.store.PushFront(ctx, identityID, rest); perr != nil {
				q.log.Error().Err(perr).Str("identity_id", identityID).Int("lost", len(rest)).Msg("failed to requeue undelivered events")
			}
			observability.OfflineDrained.Add(float64(i))
			return i, err
		}
	}
	observability.OfflineDrained.Add(float64(len(events)))
	if len(events) > 0 {
		q.log.Debug().Str("identity_id", identityID).Int("events", len(events)).Msg("offline queue drained")
	}
	return len(events), nil
}

package presence

import (
	"context"

	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
)

// Tracker applies the degraded-mode policy on top of a Registry: when the store
// cannot answer, an identity is treated as online so that delivery is attempted
// directly. The offline queue stays the safety net for that choice.
type Tracker struct {
	registry Registry
	log      zerolog.Logger
}

func NewTracker(registry Registry, log zerolog.Logger) *Tracker {
	return &Tracker{registry: registry, log: observability.Component(log, "presence")}
}

// Connect records a new connection and returns the identity's connection count,
// or -1 if the store failed.
func (t *Tracker) Connect(ctx context.Context, identityID, connectionID string) int {
	count, err := t.registry.AddConnection(ctx, identityID, connectionID)
	if err != nil {
		t.degraded(err, identityID, "add connection")
		return -1
	}
	return count
}

// Disconnect removes a connection and returns the remaining count, or -1 if the store failed.
func (t *Tracker) Disconnect(ctx context.Context, identityID, connectionID string) int {
	count, err := t.registry.RemoveConnection(ctx, identityID, connectionID)
	if err != nil {
		t.degraded(err, identityID, "remove connection")
		return -1
	}
	return count
}

// IsOnline never fails: a store error answers true.
func (t *Tracker) IsOnline(ctx context.Context, identityID string) bool {
	online, err := t.registry.IsOnline(ctx, identityID)
	if err != nil {
		t.degraded(err, identityID, "is online")
		return true
	}
	return online
}

func (t *Tracker) Touch(ctx context.Context, identityID string) {
	if err := t.registry.Touch(ctx, identityID); err != nil {
		t.degraded(err, identityID, "touch")
	}
}

func (t *Tracker) degraded(err error, identityID, op string) {
	observability.RecordDegraded(observability.DegradedPresence)
	t.log.Warn().Err(err).Str("identity_id", identityID).Str("op", op).
		Msg("presence store unavailable, assuming online")
}

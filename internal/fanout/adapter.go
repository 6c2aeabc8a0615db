// Package fanout republishes room broadcasts through a shared bus so that every
// server process delivers them to the connections it holds.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
)

// Envelope is one room broadcast on the bus.
type Envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`
}

// Bus delivers every published envelope to every subscriber, the publishing
// process included.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers handle and returns once the subscription is live.
	// Delivery stops when ctx is done.
	Subscribe(ctx context.Context, handle func(Envelope)) error
	Close() error
}

// LocalDeliverer writes an event to the connections of room held by this process.
type LocalDeliverer interface {
	DeliverLocal(room, event string, payload json.RawMessage) int
}

const (
	defaultRetryMin = time.Second
	defaultRetryMax = 30 * time.Second
)

type Adapter struct {
	bus        Bus
	local      LocalDeliverer
	origin     string
	subscribed atomic.Bool
	retryMin   time.Duration
	retryMax   time.Duration
	log        zerolog.Logger
}

type Option func(*Adapter)

// WithRetryBackoff bounds the delay between subscribe attempts while the bus
// is unreachable.
func WithRetryBackoff(initial, limit time.Duration) Option {
	return func(a *Adapter) {
		a.retryMin, a.retryMax = initial, limit
	}
}

// NewAdapter wires bus to local. A nil bus delivers locally only.
func NewAdapter(bus Bus, local LocalDeliverer, origin string, log zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		bus:      bus,
		local:    local,
		origin:   origin,
		retryMin: defaultRetryMin,
		retryMax: defaultRetryMax,
		log:      observability.Component(log, "fanout"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start subscribes this process to the bus. When the bus is unreachable the
// adapter runs degraded, delivering to local connections only, and keeps
// retrying in the background until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	if a.bus == nil {
		return
	}
	if err := a.subscribe(ctx); err != nil {
		observability.RecordDegraded(observability.DegradedFanout)
		a.log.Warn().Err(err).Str("origin", a.origin).
			Msg("fanout bus unavailable at startup, delivering to local connections only")
		go a.resubscribe(ctx)
	}
}

// Subscribed reports whether broadcasts currently reach this process through
// the bus.
func (a *Adapter) Subscribed() bool {
	return a.subscribed.Load()
}

func (a *Adapter) subscribe(ctx context.Context) error {
	if err := a.bus.Subscribe(ctx, a.receive); err != nil {
		return fmt.Errorf("subscribe fanout bus: %w", err)
	}
	a.subscribed.Store(true)
	a.log.Info().Str("origin", a.origin).Msg("fanout subscription started")
	return nil
}

func (a *Adapter) resubscribe(ctx context.Context) {
	delay := a.retryMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		err := a.subscribe(ctx)
		if err == nil {
			return
		}
		a.log.Debug().Err(err).Dur("retry_in", delay).Msg("fanout subscribe retry failed")
		delay *= 2
		if delay > a.retryMax {
			delay = a.retryMax
		}
	}
}

// Publish broadcasts event to room on every process. When the bus refuses the
// publish the event is still delivered to this process's connections.
func (a *Adapter) Publish(ctx context.Context, room, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s payload: %v", domain.ErrInternal, event, err)
	}

	if a.bus == nil {
		a.local.DeliverLocal(room, event, data)
		return nil
	}

	env := Envelope{Room: room, Event: event, Payload: data, Origin: a.origin}
	if !a.subscribed.Load() {
		// Other processes may still be listening; this one is not.
		if err := a.bus.Publish(ctx, env); err != nil {
			a.log.Debug().Err(err).Str("room", room).Msg("fanout publish failed while unsubscribed")
		}
		observability.RecordDegraded(observability.DegradedFanout)
		a.local.DeliverLocal(room, event, data)
		return nil
	}
	if err := a.bus.Publish(ctx, env); err != nil {
		observability.RecordDegraded(observability.DegradedFanout)
		a.log.Warn().Err(err).Str("room", room).Str("event", event).
			Msg("fanout bus unavailable, delivering to local connections only")
		a.local.DeliverLocal(room, event, data)
	}
	return nil
}

func (a *Adapter) receive(env Envelope) {
	a.local.DeliverLocal(env.Room, env.Event, env.Payload)
}

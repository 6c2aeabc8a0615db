package rooms

import (
	"context"
	"errors"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

func PersonalRoom(identityID string) string { return "user:" + identityID }
func WorkerRoom(identityID string) string   { return "worker:" + identityID }
func RoleRoom(role string) string           { return "role:" + role }
func SpecialtyRoom(specialty string) string { return "specialty:" + specialty }

// ProfileLookup reads an identity's profile from the durable store.
type ProfileLookup interface {
	GetIdentity(ctx context.Context, id string) (domain.Identity, error)
}

// Publisher sends a room broadcast to every process.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload interface{}) error
}

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 5, Backoff: 200 * time.Millisecond}

type Router struct {
	hub          *Hub
	publisher    Publisher
	profiles     ProfileLookup
	providerRole string
	retry        RetryPolicy
	log          zerolog.Logger
}

func NewRouter(hub *Hub, publisher Publisher, profiles ProfileLookup, providerRole string, retry RetryPolicy, log zerolog.Logger) *Router {
	if retry.Attempts <= 0 {
		retry = DefaultRetry
	}
	return &Router{
		hub:          hub,
		publisher:    publisher,
		profiles:     profiles,
		providerRole: providerRole,
		retry:        retry,
		log:          observability.Component(log, "router"),
	}
}

// ProviderRoom is the role room every provider connection joins.
func (r *Router) ProviderRoom() string {
	return RoleRoom(r.providerRole)
}

// Join places m in its personal room and, for providers, the role and worker
// rooms before returning. Capability rooms need a profile lookup and are joined
// in the background; the returned channel closes when that finishes. ctx must
// be cancelled when the connection closes.
func (r *Router) Join(ctx context.Context, m Member, identity domain.Identity) <-chan struct{} {
	rooms := []string{PersonalRoom(identity.ID)}
	if identity.Role == r.providerRole {
		rooms = append(rooms, r.ProviderRoom(), WorkerRoom(identity.ID))
	}
	for _, room := range lo.Uniq(rooms) {
		r.hub.Join(m, room)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.joinCapabilities(ctx, m, identity.ID)
	}()
	return done
}

func (r *Router) joinCapabilities(ctx context.Context, m Member, identityID string) {
	var profile domain.Identity
	var err error
	for attempt := 1; attempt <= r.retry.Attempts; attempt++ {
		profile, err = r.profiles.GetIdentity(ctx, identityID)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			break
		}
		r.log.Warn().Err(err).Str("identity_id", identityID).Int("attempt", attempt).Msg("profile lookup failed")
		if attempt == r.retry.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retry.Backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.log.Error().Err(err).Str("identity_id", identityID).Msg("giving up on capability rooms")
		}
		return
	}
	if profile.Specialty == "" {
		return
	}

	room := SpecialtyRoom(profile.Specialty)
	r.hub.Join(m, room)
	// The connection may have closed while the lookup was in flight.
	if ctx.Err() != nil {
		r.hub.Leave(m, room)
	}
}

// Leave removes m from all rooms.
func (r *Router) Leave(m Member) {
	r.hub.LeaveAll(m)
}

// Broadcast delivers event to every connection in room across all processes.
func (r *Router) Broadcast(ctx context.Context, room, event string, payload interface{}) error {
	return r.publisher.Publish(ctx, room, event, payload)
}

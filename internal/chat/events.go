package chat

import (
	"context"
	"fmt"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/ratelimit"
	"realtime-ws/internal/rooms"
)

const (
	requestAcceptedContent = "Your service request was accepted"
	requestAcceptedType    = "service_request_accepted"
)

// HandleRequestAccepted tells the requester that a worker took the request.
func (s *Service) HandleRequestAccepted(ctx context.Context, ev domain.RequestAcceptedEvent) error {
	if ev.RequesterID == "" || ev.RequestID == "" {
		return fmt.Errorf("%w: request accepted event without ids", domain.ErrValidation)
	}
	payload := domain.RequestAccepted{RequestID: ev.RequestID, WorkerID: ev.WorkerID, AcceptedAt: ev.AcceptedAt}
	if err := s.rooms.Broadcast(ctx, rooms.PersonalRoom(ev.RequesterID), domain.EventRequestAccepted, payload); err != nil {
		s.log.Error().Err(err).Str("request_id", ev.RequestID).Msg("request accepted broadcast failed")
	}
	_, err := s.Notify(ctx, ev.RequesterID, ev.WorkerID, requestAcceptedContent, requestAcceptedType)
	return err
}

// HandleRequestCreated announces a new request to the providers able to take it.
func (s *Service) HandleRequestCreated(ctx context.Context, ev domain.RequestCreatedEvent) error {
	if ev.RequesterID == "" || ev.RequestID == "" {
		return fmt.Errorf("%w: request created event without ids", domain.ErrValidation)
	}
	if !s.limiter.AllowAction(ctx, ev.RequesterID, ratelimit.ActionRequestCreate) {
		return fmt.Errorf("%w: requester %s", domain.ErrRateLimited, ev.RequesterID)
	}

	room := s.rooms.ProviderRoom()
	if ev.Specialty != "" {
		room = rooms.SpecialtyRoom(ev.Specialty)
	}
	return s.rooms.Broadcast(ctx, room, domain.EventRequestNew, domain.RequestNew{
		RequestID:   ev.RequestID,
		RequesterID: ev.RequesterID,
		Specialty:   ev.Specialty,
		Description: ev.Description,
		CreatedAt:   ev.CreatedAt,
	})
}

// HandleIdentityUpserted mirrors an identity record into the durable store.
func (s *Service) HandleIdentityUpserted(ctx context.Context, identity domain.Identity) error {
	if identity.ID == "" || identity.Role == "" {
		return fmt.Errorf("%w: identity requires id and role", domain.ErrValidation)
	}
	if err := s.store.PutIdentity(ctx, identity); err != nil {
		return fmt.Errorf("%w: store identity: %v", domain.ErrInternal, err)
	}
	return nil
}

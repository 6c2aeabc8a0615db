// Package chat is the message pipeline: it validates, rate-limits, persists and
// routes chat messages and notifications.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"
	"realtime-ws/internal/ratelimit"
	"realtime-ws/internal/rooms"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const defaultHistoryLimit = 50

// Store is the durable store. It is the only write path for messages and
// notifications.
type Store interface {
	SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	ListConversation(ctx context.Context, conversationKey string, limit int) ([]domain.Message, error)
	MarkConversationRead(ctx context.Context, conversationKey, viewerID string) (int, error)
	SaveNotification(ctx context.Context, n domain.NotificationRecord) (domain.NotificationRecord, error)
	MarkNotificationsRead(ctx context.Context, recipientID string) (int, error)
	GetIdentity(ctx context.Context, id string) (domain.Identity, error)
	PutIdentity(ctx context.Context, identity domain.Identity) error
}

type Limiter interface {
	AllowAction(ctx context.Context, identityID string, action ratelimit.Action) bool
}

type Broadcaster interface {
	Broadcast(ctx context.Context, room, event string, payload interface{}) error
	ProviderRoom() string
}

type Presence interface {
	IsOnline(ctx context.Context, identityID string) bool
}

type OfflineQueue interface {
	Enqueue(ctx context.Context, identityID string, event []byte) error
}

// AuditSink receives persisted messages for other services. Failures are logged only.
type AuditSink interface {
	PublishMessage(ctx context.Context, msg domain.Message) error
}

type Service struct {
	store    Store
	limiter  Limiter
	rooms    Broadcaster
	presence Presence
	offline  OfflineQueue
	audit    AuditSink
	validate *validator.Validate
	locks    *keyedMutex
	log      zerolog.Logger
}

type Option func(*Service)

func WithAuditSink(sink AuditSink) Option {
	return func(s *Service) { s.audit = sink }
}

func NewService(store Store, limiter Limiter, broadcaster Broadcaster, presence Presence, offline OfflineQueue, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		limiter:  limiter,
		rooms:    broadcaster,
		presence: presence,
		offline:  offline,
		validate: validator.New(),
		locks:    newKeyedMutex(64),
		log:      observability.Component(log, "chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) check(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// Send runs one chat message through the pipeline and returns it as persisted.
// Messages of one conversation are persisted and routed one at a time, so both
// parties observe them in persist order.
func (s *Service) Send(ctx context.Context, senderID string, in domain.SendMessageRequest) (domain.Message, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.ImageRef = strings.TrimSpace(in.ImageRef)
	if err := s.check(in); err != nil {
		return domain.Message{}, err
	}
	if in.Text == "" && in.ImageRef == "" {
		return domain.Message{}, fmt.Errorf("%w: text or imageRef required", domain.ErrValidation)
	}

	if !s.limiter.AllowAction(ctx, senderID, ratelimit.ActionMessageSend) {
		return domain.Message{}, fmt.Errorf("%w: too many messages, slow down", domain.ErrRateLimited)
	}

	if _, err := s.store.GetIdentity(ctx, in.ReceiverID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Message{}, fmt.Errorf("%w: receiver %s", domain.ErrNotFound, in.ReceiverID)
		}
		return domain.Message{}, fmt.Errorf("%w: lookup receiver: %v", domain.ErrInternal, err)
	}

	key := domain.ConversationKey(senderID, in.ReceiverID)

	// An accepted message completes even if the sender disconnects meanwhile.
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.Lock(key)
	defer unlock()

	msg, err := s.store.SaveMessage(ctx, domain.Message{
		ConversationKey: key,
		SenderID:        senderID,
		ReceiverID:      in.ReceiverID,
		Text:            in.Text,
		ImageRef:        in.ImageRef,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: persist message: %v", domain.ErrInternal, err)
	}
	observability.MessagesPersisted.Inc()

	s.route(ctx, in.ReceiverID, domain.EventMessageNew, msg,
		rooms.PersonalRoom(senderID), rooms.PersonalRoom(in.ReceiverID))

	if s.audit != nil {
		go s.publishAudit(msg)
	}
	return msg, nil
}

// Notify persists a notification for recipientID and routes it like a chat
// message. It is system-triggered and not rate-limited.
func (s *Service) Notify(ctx context.Context, recipientID, senderID, content, kind string) (domain.NotificationRecord, error) {
	if recipientID == "" || content == "" {
		return domain.NotificationRecord{}, fmt.Errorf("%w: recipient and content required", domain.ErrValidation)
	}

	ctx = context.WithoutCancel(ctx)
	n, err := s.store.SaveNotification(ctx, domain.NotificationRecord{
		RecipientID: recipientID,
		SenderID:    senderID,
		Content:     content,
		Type:        kind,
	})
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("%w: persist notification: %v", domain.ErrInternal, err)
	}
	observability.NotificationsPersisted.Inc()

	s.route(ctx, recipientID, domain.EventNotificationNew, n, rooms.PersonalRoom(recipientID))
	return n, nil
}

// route queues the event for recipientID when it has no open connection, then
// broadcasts it to rooms. Presence is read before the broadcast: a recipient
// that connects in between gets the event from its queue and the connection
// drops the live duplicate.
func (s *Service) route(ctx context.Context, recipientID, event string, payload interface{}, targets ...string) {
	if !s.presence.IsOnline(ctx, recipientID) {
		frame, err := domain.EncodeEvent(event, payload)
		if err != nil {
			s.log.Error().Err(err).Str("event", event).Msg("failed to encode offline event")
		} else if err := s.offline.Enqueue(ctx, recipientID, frame); err != nil {
			s.log.Error().Err(err).Str("identity_id", recipientID).Str("event", event).Msg("failed to queue offline event")
		}
	}

	for _, room := range lo.Uniq(targets) {
		if err := s.rooms.Broadcast(ctx, room, event, payload); err != nil {
			s.log.Error().Err(err).Str("room", room).Str("event", event).Msg("broadcast failed")
		}
	}
}

func (s *Service) publishAudit(msg domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.audit.PublishMessage(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("audit publish failed")
	}
}

// Typing relays a typing indicator to the receiver's connections. Nothing is
// persisted or queued.
func (s *Service) Typing(ctx context.Context, fromID string, in domain.TypingRequest) error {
	if err := s.check(in); err != nil {
		return err
	}
	conversationID := in.ConversationID
	if conversationID == "" {
		conversationID = domain.ConversationKey(fromID, in.ReceiverID)
	}
	return s.rooms.Broadcast(ctx, rooms.PersonalRoom(in.ReceiverID), domain.EventTyping, domain.TypingMessage{
		FromID:         fromID,
		Typing:         in.Typing,
		ConversationID: conversationID,
	})
}

// OpenConversation marks every unread message addressed to viewerID in its
// conversation with the peer as read in one bulk update, then returns the
// latest page of history.
func (s *Service) OpenConversation(ctx context.Context, viewerID string, in domain.OpenConversationRequest) (domain.ConversationView, error) {
	if err := s.check(in); err != nil {
		return domain.ConversationView{}, err
	}
	limit := in.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	key := domain.ConversationKey(viewerID, in.PeerID)

	updated, err := s.store.MarkConversationRead(ctx, key, viewerID)
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("%w: mark read: %v", domain.ErrInternal, err)
	}
	messages, err := s.store.ListConversation(ctx, key, limit)
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("%w: load history: %v", domain.ErrInternal, err)
	}
	return domain.ConversationView{ConversationKey: key, Updated: updated, Messages: messages}, nil
}

func (s *Service) MarkNotificationsRead(ctx context.Context, viewerID string) (int, error) {
	n, err := s.store.MarkNotificationsRead(ctx, viewerID)
	if err != nil {
		return 0, fmt.Errorf("%w: mark notifications read: %v", domain.ErrInternal, err)
	}
	return n, nil
}

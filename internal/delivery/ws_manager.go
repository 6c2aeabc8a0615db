package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"
	"realtime-ws/internal/rooms"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ClientConfig bounds a single connection.
type ClientConfig struct {
	SendBufferSize int
	FrameRate      float64
	FrameBurst     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	// DedupeWindow is how long after the offline drain live copies of
	// replayed events are still dropped.
	DedupeWindow   time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBufferSize: 256,
		FrameRate:      20,
		FrameBurst:     40,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		DedupeWindow:   5 * time.Second,
	}
}

type Authenticator interface {
	Authenticate(ctx context.Context, rawCredential string) (domain.Identity, error)
	Timeout() time.Duration
}

type RoomRouter interface {
	Join(ctx context.Context, m rooms.Member, identity domain.Identity) <-chan struct{}
	Leave(m rooms.Member)
	Broadcast(ctx context.Context, room, event string, payload interface{}) error
}

type PresenceTracker interface {
	Connect(ctx context.Context, identityID, connectionID string) int
	Disconnect(ctx context.Context, identityID, connectionID string) int
	IsOnline(ctx context.Context, identityID string) bool
	Touch(ctx context.Context, identityID string)
}

type OfflineDrainer interface {
	Drain(ctx context.Context, identityID string, deliver func([]byte) error) (int, error)
}

type ChatService interface {
	Send(ctx context.Context, senderID string, in domain.SendMessageRequest) (domain.Message, error)
	Typing(ctx context.Context, fromID string, in domain.TypingRequest) error
	OpenConversation(ctx context.Context, viewerID string, in domain.OpenConversationRequest) (domain.ConversationView, error)
	MarkNotificationsRead(ctx context.Context, viewerID string) (int, error)
}

// PresenceAudit receives connection transitions for other services.
type PresenceAudit interface {
	PublishPresence(ctx context.Context, ev domain.PresenceEvent) error
}

type WSManager struct {
	gate     Authenticator
	router   RoomRouter
	presence PresenceTracker
	offline  OfflineDrainer
	chat     ChatService
	audit    PresenceAudit
	cfg      ClientConfig
	handlers map[string]frameHandler
	active   atomic.Int64
	log      zerolog.Logger
}

func NewWSManager(gate Authenticator, router RoomRouter, presence PresenceTracker, offline OfflineDrainer, chat ChatService, cfg ClientConfig, log zerolog.Logger) *WSManager {
	w := &WSManager{
		gate:     gate,
		router:   router,
		presence: presence,
		offline:  offline,
		chat:     chat,
		cfg:      cfg,
		log:      observability.Component(log, "ws"),
	}
	w.handlers = w.frameHandlers()
	return w
}

// SetPresenceAudit enables the connection-status audit stream.
func (w *WSManager) SetPresenceAudit(audit PresenceAudit) {
	w.audit = audit
}

// ActiveConnections is the number of connections open on this process.
func (w *WSManager) ActiveConnections() int64 {
	return w.active.Load()
}

// HandleConnection runs one connection to completion. identity is set when the
// credential came with the upgrade request; otherwise the first frame must be
// an auth frame.
func (w *WSManager) HandleConnection(c *websocket.Conn, identity *domain.Identity) {
	w.serve(c, identity)
}

func (w *WSManager) serve(conn wsConn, pre *domain.Identity) {
	defer conn.Close()

	var identity domain.Identity
	if pre != nil {
		identity = *pre
	} else {
		var err error
		identity, err = w.handshake(conn)
		if err != nil {
			w.refuse(conn, err)
			return
		}
	}

	client := newClient(uuid.NewString(), identity, conn, w.cfg, w.log)
	ctx, cancel := context.WithCancel(context.Background())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		client.writePump(w.cfg)
	}()

	w.open(ctx, client)
	defer func() {
		cancel()
		w.closeClient(client)
		<-pumpDone
	}()

	w.readLoop(ctx, client)
}

// handshake waits for the first frame, which must carry the credential.
func (w *WSManager) handshake(conn wsConn) (domain.Identity, error) {
	deadline := time.Now().Add(w.gate.Timeout())
	_ = conn.SetReadDeadline(deadline)

	_, data, err := conn.ReadMessage()
	if err != nil {
		observability.AuthFailures.Inc()
		return domain.Identity{}, fmt.Errorf("%w: no credential before handshake timeout", domain.ErrAuth)
	}
	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != domain.EventAuth {
		observability.AuthFailures.Inc()
		return domain.Identity{}, fmt.Errorf("%w: first frame must be auth", domain.ErrAuth)
	}
	var in domain.AuthRequest
	if err := json.Unmarshal(frame.Data, &in); err != nil {
		observability.AuthFailures.Inc()
		return domain.Identity{}, fmt.Errorf("%w: malformed auth frame", domain.ErrAuth)
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	identity, err := w.gate.Authenticate(ctx, in.Token)
	if err != nil {
		return domain.Identity{}, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return identity, nil
}

func (w *WSManager) refuse(conn wsConn, err error) {
	w.log.Debug().Err(err).Msg("connection refused")
	frame, _ := domain.EncodeEvent(domain.EventError, domain.NewErrorPayload("", err))
	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteWait))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, domain.ErrorCode(err)))
}

// open joins rooms, records presence and replays the offline queue, in that
// order, so nothing routed to the identity falls between the three steps.
func (w *WSManager) open(ctx context.Context, client *Client) {
	identity := client.identity
	observability.ConnectionsTotal.Inc()
	observability.ConnectionsActive.Inc()
	w.active.Add(1)

	welcome, _ := domain.EncodeEvent(domain.EventConnectionEstablished, domain.Connection{
		ID:         client.id,
		IdentityID: identity.ID,
		OpenedAt:   client.openedAt,
	})
	_ = client.push(welcome)

	w.router.Join(ctx, client, identity)
	count := w.presence.Connect(ctx, identity.ID, client.id)
	w.announce(ctx, client, domain.PresenceConnected)

	n, err := w.offline.Drain(ctx, identity.ID, func(frame []byte) error {
		return client.deliverQueued(frame, w.cfg.WriteWait)
	})
	if err != nil {
		client.log.Warn().Err(err).Int("delivered", n).Msg("offline drain interrupted")
	}
	client.finishDrain()

	client.log.Info().Int("connections", count).Int("replayed", n).Msg("client connected")
}

// closeClient runs on every exit path. Presence is removed with a fresh
// context because the connection context is already cancelled. It goes
// before the room leave so that a send racing the close is queued instead of
// broadcast to a room the client no longer reads.
func (w *WSManager) closeClient(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteWait)
	defer cancel()
	count := w.presence.Disconnect(ctx, client.identity.ID, client.id)

	client.close()
	w.router.Leave(client)
	w.announce(ctx, client, domain.PresenceDisconnected)

	observability.ConnectionsActive.Dec()
	w.active.Add(-1)
	client.log.Info().Int("remaining", count).Msg("client disconnected")
}

// announce tells the identity's other sessions about this connection.
func (w *WSManager) announce(ctx context.Context, client *Client, status string) {
	ev := domain.PresenceEvent{
		IdentityID:   client.identity.ID,
		ConnectionID: client.id,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	}
	event := domain.EventPresenceConnected
	if status == domain.PresenceDisconnected {
		event = domain.EventPresenceDisconnected
	}
	if err := w.router.Broadcast(ctx, rooms.PersonalRoom(ev.IdentityID), event, ev); err != nil {
		client.log.Warn().Err(err).Str("event", event).Msg("presence broadcast failed")
	}
	if w.audit != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.audit.PublishPresence(ctx, ev); err != nil {
				w.log.Debug().Err(err).Msg("presence audit failed")
			}
		}()
	}
}

func (w *WSManager) readLoop(ctx context.Context, client *Client) {
	conn := client.conn
	_ = conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		w.presence.Touch(ctx, client.identity.ID)
		return conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.log.Debug().Err(err).Msg("read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))

		if !client.frames.Allow() {
			observability.RateLimited.WithLabelValues("frame").Inc()
			w.reply(client, "", domain.EventError, nil, fmt.Errorf("%w: too many frames", domain.ErrRateLimited))
			continue
		}
		w.dispatch(ctx, client, data)

		select {
		case <-client.done:
			return
		default:
		}
	}
}

func (w *WSManager) dispatch(ctx context.Context, client *Client, data []byte) {
	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		w.reply(client, "", domain.EventError, nil, fmt.Errorf("%w: malformed frame", domain.ErrValidation))
		return
	}

	h, ok := w.handlers[frame.Type]
	if !ok {
		w.reply(client, frame.Ref, domain.EventError, nil, fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, frame.Type))
		return
	}

	result, err := h.handle(ctx, client, frame.Data)
	if err != nil && !isClientError(err) {
		client.log.Error().Err(err).Str("event", frame.Type).Msg("event failed")
	}
	switch {
	case h.ack:
		w.reply(client, frame.Ref, domain.EventAck, result, err)
	case err != nil:
		w.reply(client, frame.Ref, domain.EventError, nil, err)
	}
}

// reply sends an ack, or an error event for frames that are not acked.
func (w *WSManager) reply(client *Client, ref, event string, data interface{}, err error) {
	var frame []byte
	var encErr error
	if event == domain.EventAck {
		frame, encErr = json.Marshal(domain.NewAck(ref, data, err))
	} else {
		frame, encErr = domain.EncodeEvent(event, domain.NewErrorPayload(ref, err))
	}
	if encErr != nil {
		client.log.Error().Err(encErr).Msg("failed to encode reply")
		return
	}
	_ = client.push(frame)
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrNotFound)
}

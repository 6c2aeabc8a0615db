package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realtime-ws/internal/domain"
)

type frameHandler struct {
	handle func(ctx context.Context, client *Client, data json.RawMessage) (interface{}, error)
	ack    bool
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload", domain.ErrValidation)
	}
	return nil
}

func (w *WSManager) frameHandlers() map[string]frameHandler {
	return map[string]frameHandler{
		domain.EventMessageSend:      {handle: w.handleSendMessage, ack: true},
		domain.EventTyping:           {handle: w.handleTyping},
		domain.EventConversationOpen: {handle: w.handleOpenConversation, ack: true},
		domain.EventNotificationRead: {handle: w.handleNotificationRead, ack: true},
		domain.EventPing:             {handle: w.handlePing},
		domain.EventAuth:             {handle: w.handleReauth, ack: true},
	}
}

func (w *WSManager) handleSendMessage(ctx context.Context, client *Client, data json.RawMessage) (interface{}, error) {
	var in domain.SendMessageRequest
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	return w.chat.Send(ctx, client.identity.ID, in)
}

func (w *WSManager) handleTyping(ctx context.Context, client *Client, data json.RawMessage) (interface{}, error) {
	var in domain.TypingRequest
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	return nil, w.chat.Typing(ctx, client.identity.ID, in)
}

func (w *WSManager) handleOpenConversation(ctx context.Context, client *Client, data json.RawMessage) (interface{}, error) {
	var in domain.OpenConversationRequest
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	return w.chat.OpenConversation(ctx, client.identity.ID, in)
}

func (w *WSManager) handleNotificationRead(ctx context.Context, client *Client, _ json.RawMessage) (interface{}, error) {
	n, err := w.chat.MarkNotificationsRead(ctx, client.identity.ID)
	if err != nil {
		return nil, err
	}
	return map[string]int{"updated": n}, nil
}

func (w *WSManager) handlePing(_ context.Context, client *Client, _ json.RawMessage) (interface{}, error) {
	frame, err := domain.EncodeEvent(domain.EventPong, domain.PongPayload{Timestamp: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return nil, client.push(frame)
}

// handleReauth rejects a second auth frame; identity is fixed for the connection.
func (w *WSManager) handleReauth(context.Context, *Client, json.RawMessage) (interface{}, error) {
	return nil, fmt.Errorf("%w: already authenticated", domain.ErrValidation)
}

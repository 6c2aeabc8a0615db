package domain

import (
	"encoding/json"
	"time"
)

// Client -> server events.
const (
	EventAuth             = "auth"
	EventMessageSend      = "message:send"
	EventTyping           = "typing"
	EventConversationOpen = "conversation:open"
	EventNotificationRead = "notification:read"
	EventPing             = "ping"
)

// Server -> client events.
const (
	EventAck                   = "ack"
	EventError                 = "error"
	EventPong                  = "pong"
	EventConnectionEstablished = "connection_established"
	EventMessageNew            = "message:new"
	EventNotificationNew       = "notification:new"
	EventPresenceConnected     = "presence:connected"
	EventPresenceDisconnected  = "presence:disconnected"
	EventRequestAccepted       = "request:accepted"
	EventRequestNew            = "request:new"
)

// ClientFrame is what a client writes on the socket.
type ClientFrame struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is what the server pushes to clients, live or from the offline queue.
type ServerEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type Ack struct {
	Type    string      `json:"type"`
	Ref     string      `json:"ref,omitempty"`
	OK      bool        `json:"ok"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type AuthRequest struct {
	Token string `json:"token" validate:"required"`
}

type SendMessageRequest struct {
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	Text       string `json:"text" validate:"max=4000"`
	ImageRef   string `json:"imageRef" validate:"omitempty,max=2048"`
}

type TypingRequest struct {
	ReceiverID     string `json:"receiverId" validate:"required,max=128"`
	Typing         bool   `json:"typing"`
	ConversationID string `json:"conversationId"`
}

type OpenConversationRequest struct {
	PeerID string `json:"peerId" validate:"required,max=128"`
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=200"`
}

// EncodeEvent renders a server event frame. Payloads that are already
// json.RawMessage are embedded as is, so a frame built from a bus envelope is
// byte-identical to one built from the original value.
func EncodeEvent(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(ServerEvent{Type: event, Data: payload})
}

func NewAck(ref string, data interface{}, err error) Ack {
	if err != nil {
		return Ack{Type: EventAck, Ref: ref, OK: false, Error: ErrorCode(err), Message: ErrorDetail(err)}
	}
	return Ack{Type: EventAck, Ref: ref, OK: true, Data: data}
}

// ErrorPayload is the data of an error event: a failure with nothing to ack.
type ErrorPayload struct {
	Ref     string `json:"ref,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewErrorPayload(ref string, err error) ErrorPayload {
	return ErrorPayload{Ref: ref, Error: ErrorCode(err), Message: ErrorDetail(err)}
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated party behind a connection. It is resolved once
// by the handshake gate and never mutated afterwards.
type Identity struct {
	ID                string            `json:"id"`
	Role              string            `json:"role"`
	Specialty         string            `json:"specialty,omitempty"`
	DisplayAttributes map[string]string `json:"displayAttributes,omitempty"`
}

type Message struct {
	ID              uuid.UUID `json:"id"`
	ConversationKey string    `json:"conversationKey"`
	SenderID        string    `json:"senderId"`
	ReceiverID      string    `json:"receiverId"`
	Text            string    `json:"text,omitempty"`
	ImageRef        string    `json:"imageRef,omitempty"`
	IsRead          bool      `json:"isRead"`
	CreatedAt       time.Time `json:"createdAt"`
}

type NotificationRecord struct {
	ID          uuid.UUID `json:"id"`
	RecipientID string    `json:"recipientId"`
	SenderID    string    `json:"senderId,omitempty"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TypingMessage struct {
	FromID         string `json:"fromId"`
	Typing         bool   `json:"typing"`
	ConversationID string `json:"conversationId"`
}

// RequestAccepted is the client-facing payload of a request:accepted event.
type RequestAccepted struct {
	RequestID  string    `json:"requestId"`
	WorkerID   string    `json:"workerId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// RequestNew is fanned out to providers when a service request is opened.
type RequestNew struct {
	RequestID   string    `json:"requestId"`
	RequesterID string    `json:"requesterId"`
	Specialty   string    `json:"specialty,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ConversationView struct {
	ConversationKey string    `json:"conversationKey"`
	Updated         int       `json:"updated"`
	Messages        []Message `json:"messages"`
}

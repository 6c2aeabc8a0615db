package domain

import (
	"encoding/json"
	"time"
)

// Domain Event Source event types.
const (
	DomainRequestAccepted = "request:accepted"
	DomainRequestCreated  = "request:created"
	DomainIdentityUpsert  = "identity:upserted"
)

// DomainEvent is the envelope carried on the domain event topics.
type DomainEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type RequestAcceptedEvent struct {
	RequestID   string    `json:"requestId"`
	RequesterID string    `json:"requesterId"`
	WorkerID    string    `json:"workerId"`
	AcceptedAt  time.Time `json:"acceptedAt"`
}

type RequestCreatedEvent struct {
	RequestID   string    `json:"requestId"`
	RequesterID string    `json:"requesterId"`
	Specialty   string    `json:"specialty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

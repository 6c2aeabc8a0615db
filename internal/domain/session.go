package domain

import "time"

// Connection is one open socket of an identity.
type Connection struct {
	ID         string    `json:"connectionId"`
	IdentityID string    `json:"identityId"`
	OpenedAt   time.Time `json:"openedAt"`
}

type PresenceEvent struct {
	IdentityID   string    `json:"identityId"`
	ConnectionID string    `json:"connectionId"`
	Status       string    `json:"-"`
	Timestamp    time.Time `json:"-"`
}

const (
	PresenceConnected    = "connected"
	PresenceDisconnected = "disconnected"
)

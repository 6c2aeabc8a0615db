// Package rooms maps connections to named broadcast groups.
package rooms

import (
	"encoding/json"
	"sync"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
)

// Member is a connection that can be joined to rooms.
type Member interface {
	ID() string
	IdentityID() string
	// Send queues a rendered frame without blocking.
	Send(frame []byte) error
}

// Hub holds the room memberships of the connections open on this process.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Member
	memberships map[string]map[string]struct{}
	log         zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms:       make(map[string]map[string]Member),
		memberships: make(map[string]map[string]struct{}),
		log:         observability.Component(log, "hub"),
	}
}

// Join adds m to room. It reports false if m was already a member.
func (h *Hub) Join(m Member, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Member)
		h.rooms[room] = members
	}
	if _, exists := members[m.ID()]; exists {
		return false
	}
	members[m.ID()] = m

	joined, ok := h.memberships[m.ID()]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[m.ID()] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes m from room.
func (h *Hub) Leave(m Member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(m.ID(), room)
}

// LeaveAll removes m from every room it joined and returns those rooms.
func (h *Hub) LeaveAll(m Member) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []string
	for room := range h.memberships[m.ID()] {
		left = append(left, room)
		h.leaveLocked(m.ID(), room)
	}
	delete(h.memberships, m.ID())
	return left
}

func (h *Hub) leaveLocked(memberID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, memberID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.memberships[memberID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.memberships, memberID)
		}
	}
}

// DeliverLocal writes event to every member of room on this process and
// returns how many accepted it.
func (h *Hub) DeliverLocal(room, event string, payload json.RawMessage) int {
	h.mu.RLock()
	members := make([]Member, 0, len(h.rooms[room]))
	for _, m := range h.rooms[room] {
		members = append(members, m)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		return 0
	}

	frame, err := domain.EncodeEvent(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to encode event")
		return 0
	}

	delivered := 0
	for _, m := range members {
		if err := m.Send(frame); err != nil {
			h.log.Debug().Err(err).Str("connection_id", m.ID()).Str("room", room).Msg("failed to deliver event")
			continue
		}
		delivered++
	}
	return delivered
}

// Rooms returns the rooms memberID has joined.
func (h *Hub) Rooms(memberID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.memberships[memberID]))
	for room := range h.memberships[memberID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// ActiveRooms returns the member count of every non-empty room.
func (h *Hub) ActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		result[room] = len(members)
	}
	return result
}

// MemberCount returns the number of local members of room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

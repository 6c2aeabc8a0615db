package rooms

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id, identityID string
	mu             sync.Mutex
	frames         []string
	fail           bool
}

func newMember(id, identityID string) *fakeMember {
	return &fakeMember{id: id, identityID: identityID}
}

func (m *fakeMember) ID() string         { return m.id }
func (m *fakeMember) IdentityID() string { return m.identityID }

func (m *fakeMember) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("send buffer full")
	}
	m.frames = append(m.frames, string(frame))
	return nil
}

func (m *fakeMember) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.frames...)
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())
	m := newMember("c1", "U1")

	req.True(hub.Join(m, "user:U1"))
	req.False(hub.Join(m, "user:U1"))
	req.Equal(1, hub.MemberCount("user:U1"))

	req.Equal(1, hub.DeliverLocal("user:U1", "typing", json.RawMessage(`{"typing":true}`)))
	req.Equal([]string{`{"type":"typing","data":{"typing":true}}`}, m.received())
}

func TestHub_DeliverOnlyToRoomMembers(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())
	phone, laptop, other := newMember("c1", "U1"), newMember("c2", "U1"), newMember("c3", "U2")
	hub.Join(phone, "user:U1")
	hub.Join(laptop, "user:U1")
	hub.Join(other, "user:U2")

	req.Equal(2, hub.DeliverLocal("user:U1", "message:new", json.RawMessage(`{}`)))
	req.Len(phone.received(), 1)
	req.Len(laptop.received(), 1)
	req.Empty(other.received())
	req.Zero(hub.DeliverLocal("user:nobody", "message:new", json.RawMessage(`{}`)))
}

func TestHub_FailedSendIsNotCounted(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())
	ok, stuck := newMember("c1", "U1"), newMember("c2", "U1")
	stuck.fail = true
	hub.Join(ok, "user:U1")
	hub.Join(stuck, "user:U1")

	req.Equal(1, hub.DeliverLocal("user:U1", "message:new", json.RawMessage(`{}`)))
}

func TestHub_LeaveAllCleansEmptyRooms(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zerolog.Nop())
	m := newMember("c1", "W1")
	hub.Join(m, "user:W1")
	hub.Join(m, "role:worker")
	hub.Join(m, "specialty:plumbing")

	req.ElementsMatch([]string{"user:W1", "role:worker", "specialty:plumbing"}, hub.Rooms("c1"))
	left := hub.LeaveAll(m)
	req.Len(left, 3)
	req.Empty(hub.ActiveRooms())
	req.Empty(hub.Rooms("c1"))
}

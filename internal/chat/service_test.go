package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/fanout"
	"realtime-ws/internal/infrastructure/storage"
	"realtime-ws/internal/offline"
	"realtime-ws/internal/presence"
	"realtime-ws/internal/ratelimit"
	"realtime-ws/internal/rooms"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type conn struct {
	id, identityID string
	mu             sync.Mutex
	frames         []string
}

func (c *conn) ID() string         { return c.id }
func (c *conn) IdentityID() string { return c.identityID }

func (c *conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *conn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

type fixture struct {
	svc      *Service
	store    *storage.Store
	hub      *rooms.Hub
	router   *rooms.Router
	registry *presence.Memory
	queues   *offline.MemoryStore
	queue    *offline.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()

	db, err := storage.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewStore(db, log)

	hub := rooms.NewHub(log)
	adapter := fanout.NewAdapter(nil, hub, "test", log)
	router := rooms.NewRouter(hub, adapter, store, "worker", rooms.RetryPolicy{Attempts: 1}, log)

	registry := presence.NewMemory()
	queues := offline.NewMemoryStore(time.Hour, 100)
	queue := offline.NewQueue(queues, log)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), map[ratelimit.Action]ratelimit.Policy{
		ratelimit.ActionMessageSend:   {Limit: 60, Window: time.Minute},
		ratelimit.ActionRequestCreate: {Limit: 10, Window: time.Minute},
	}, log)

	svc := NewService(store, limiter, router, presence.NewTracker(registry, log), queue, log)

	ctx := context.Background()
	for _, id := range []domain.Identity{
		{ID: "U1", Role: "customer"},
		{ID: "U2", Role: "customer"},
		{ID: "U3", Role: "customer"},
		{ID: "W1", Role: "worker", Specialty: "plumbing"},
	} {
		require.NoError(t, store.PutIdentity(ctx, id))
	}

	return &fixture{svc: svc, store: store, hub: hub, router: router, registry: registry, queues: queues, queue: queue}
}

// connect mirrors the connection lifecycle: join rooms, then mark present.
func (f *fixture) connect(t *testing.T, identity domain.Identity, connID string) *conn {
	t.Helper()
	c := &conn{id: connID, identityID: identity.ID}
	<-f.router.Join(context.Background(), c, identity)
	_, err := f.registry.AddConnection(context.Background(), identity.ID, connID)
	require.NoError(t, err)
	return c
}

func TestSend_OnlineReceiverGetsLiveFrame(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.connect(t, domain.Identity{ID: "U1", Role: "customer"}, "c1")
	u2 := f.connect(t, domain.Identity{ID: "U2", Role: "customer"}, "c2")

	msg, err := f.svc.Send(ctx, "U1", domain.SendMessageRequest{ReceiverID: "U2", Text: " hi "})
	req.NoError(err)
	req.Equal("U1_U2", msg.ConversationKey)
	req.Equal("hi", msg.Text)
	req.False(msg.IsRead)
	req.False(msg.CreatedAt.IsZero())

	want, err := domain.EncodeEvent(domain.EventMessageNew, msg)
	req.NoError(err)
	req.Equal([]string{string(want)}, u1.received())
	req.Equal([]string{string(want)}, u2.received())
	req.Zero(f.queues.Len("U2"))
}

func TestSend_OfflineReceiverIsQueuedAndDrainedOnce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.connect(t, domain.Identity{ID: "U1", Role: "customer"}, "c1")

	var sent []domain.Message
	for _, text := range []string{"m1", "m2", "m3"} {
		msg, err := f.svc.Send(ctx, "U1", domain.SendMessageRequest{ReceiverID: "U2", Text: text})
		req.NoError(err)
		sent = append(sent, msg)
	}
	req.Equal(3, f.queues.Len("U2"))

	var drained []string
	n, err := f.queue.Drain(ctx, "U2", func(frame []byte) error {
		drained = append(drained, string(frame))
		return nil
	})
	req.NoError(err)
	req.Equal(3, n)
	// The queued frames are the frames the sender's own connection saw live.
	req.Equal(u1.received(), drained)

	var first domain.ServerEvent
	req.NoError(json.Unmarshal([]byte(drained[0]), &first))
	req.Equal(domain.EventMessageNew, first.Type)
	req.Equal(sent[0].ID.String(), first.Data.(map[string]interface{})["id"])

	n, err = f.queue.Drain(ctx, "U2", func([]byte) error { return nil })
	req.NoError(err)
	req.Zero(n)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]domain.SendMessageRequest{
		"no content":       {ReceiverID: "U2"},
		"blank content":    {ReceiverID: "U2", Text: "   "},
		"missing receiver": {Text: "hi"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, "U1", in)
			require.ErrorIs(t, err, domain.ErrValidation)
			require.Equal(t, "validation_error", domain.ErrorCode(err))
		})
	}
}

func TestSend_ImageOnlyIsAccepted(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.Send(context.Background(), "U1", domain.SendMessageRequest{ReceiverID: "U2", ImageRef: "img/1.png"})
	require.NoError(t, err)
	require.Equal(t, "img/1.png", msg.ImageRef)
}

func TestSend_UnknownReceiver(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), "U1", domain.SendMessageRequest{ReceiverID: "ghost", Text: "hi"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	msgs, err := f.store.ListConversation(context.Background(), domain.ConversationKey("U1", "ghost"), 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestSend_RateLimitedAfterSixtyInWindow(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := f.svc.Send(ctx, "U1", domain.SendMessageRequest{ReceiverID: "U2", Text: "spam"})
		req.NoError(err)
	}
	_, err := f.svc.Send(ctx, "U1", domain.SendMessageRequest{ReceiverID: "U2", Text: "spam"})
	req.ErrorIs(err, domain.ErrRateLimited)

	// other senders keep their own budget
	_, err = f.svc.Send(ctx, "U3", domain.SendMessageRequest{ReceiverID: "U2", Text: "hello"})
	req.NoError(err)

	msgs, err := f.store.ListConversation(ctx, "U1_U2", 0)
	req.NoError(err)
	req.Len(msgs, 60)
}

func TestSend_ConcurrentSendsKeepPersistOrder(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	u2 := f.connect(t, domain.Identity{ID: "U2", Role: "customer"}, "c2")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := f.svc.Send(ctx, "U1", domain.SendMessageRequest{ReceiverID: "U2", Text: "x"})
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	persisted, err := f.store.ListConversation(ctx, "U1_U2", 0)
	req.NoError(err)
	req.Len(persisted, 20)

	frames := u2.received()
	req.Len(frames, 20)
	for i, frame := range frames {
		var ev struct {
			Data domain.Message `json:"data"`
		}
		req.NoError(json.Unmarshal([]byte(frame), &ev))
		req.Equal(persisted[i].ID, ev.Data.ID)
	}
}

func TestOpenConversation_MarksOnlyViewerMessagesRead(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	for _, s := range []struct{ from, to string }{{"U1", "U2"}, {"U1", "U2"}, {"U2", "U1"}, {"U3", "U2"}} {
		_, err := f.svc.Send(ctx, s.from, domain.SendMessageRequest{ReceiverID: s.to, Text: "hi"})
		req.NoError(err)
	}

	view, err := f.svc.OpenConversation(ctx, "U2", domain.OpenConversationRequest{PeerID: "U1"})
	req.NoError(err)
	req.Equal("U1_U2", view.ConversationKey)
	req.Equal(2, view.Updated)
	req.Len(view.Messages, 3)
	for _, m := range view.Messages {
		req.Equal(m.ReceiverID == "U2", m.IsRead)
	}

	view, err = f.svc.OpenConversation(ctx, "U2", domain.OpenConversationRequest{PeerID: "U1"})
	req.NoError(err)
	req.Zero(view.Updated)

	// U3's conversation with U2 is untouched
	other, err := f.store.ListConversation(ctx, "U2_U3", 0)
	req.NoError(err)
	req.Len(other, 1)
	req.False(other[0].IsRead)

	view, err = f.svc.OpenConversation(ctx, "U1", domain.OpenConversationRequest{PeerID: "U2", Limit: 1})
	req.NoError(err)
	req.Equal(1, view.Updated)
	req.Len(view.Messages, 1)
}

func TestTyping_DefaultsConversationID(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	u2 := f.connect(t, domain.Identity{ID: "U2", Role: "customer"}, "c2")

	req.NoError(f.svc.Typing(context.Background(), "U1", domain.TypingRequest{ReceiverID: "U2", Typing: true}))

	want, err := domain.EncodeEvent(domain.EventTyping, domain.TypingMessage{FromID: "U1", Typing: true, ConversationID: "U1_U2"})
	req.NoError(err)
	req.Equal([]string{string(want)}, u2.received())
	req.Zero(f.queues.Len("U2"))

	err = f.svc.Typing(context.Background(), "U1", domain.TypingRequest{Typing: true})
	req.ErrorIs(err, domain.ErrValidation)
}

func TestNotify_OfflineRecipientIsQueued(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Notify(ctx, "U1", "W1", "hello", "system")
	req.NoError(err)
	req.False(n.IsRead)
	req.Equal(1, f.queues.Len("U1"))

	updated, err := f.svc.MarkNotificationsRead(ctx, "U1")
	req.NoError(err)
	req.Equal(1, updated)

	_, err = f.svc.Notify(ctx, "", "W1", "hello", "system")
	req.ErrorIs(err, domain.ErrValidation)
}

type failingOffline struct{}

func (failingOffline) Enqueue(context.Context, string, []byte) error {
	return errors.New("queue down")
}

func TestSend_QueueFailureStillAcks(t *testing.T) {
	f := newFixture(t)
	f.svc.offline = failingOffline{}

	msg, err := f.svc.Send(context.Background(), "U1", domain.SendMessageRequest{ReceiverID: "U2", Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi", msg.Text)
}

type auditRecorder struct {
	ch chan domain.Message
}

func (a auditRecorder) PublishMessage(_ context.Context, msg domain.Message) error {
	a.ch <- msg
	return nil
}

func TestSend_PublishesAudit(t *testing.T) {
	f := newFixture(t)
	audit := auditRecorder{ch: make(chan domain.Message, 1)}
	WithAuditSink(audit)(f.svc)

	msg, err := f.svc.Send(context.Background(), "U1", domain.SendMessageRequest{ReceiverID: "U2", Text: "hi"})
	require.NoError(t, err)

	select {
	case got := <-audit.ch:
		require.Equal(t, msg.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("audit not published")
	}
}

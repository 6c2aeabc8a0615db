package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"realtime-ws/internal/fanout"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClientFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestPresenceStore_CountsAndRemovesEmptySet(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewPresenceStore(client, time.Minute)

	n, err := store.AddConnection(ctx, "U1", "c1")
	req.NoError(err)
	req.Equal(1, n)
	n, err = store.AddConnection(ctx, "U1", "c2")
	req.NoError(err)
	req.Equal(2, n)

	// idempotent add
	n, err = store.AddConnection(ctx, "U1", "c2")
	req.NoError(err)
	req.Equal(2, n)

	online, err := store.IsOnline(ctx, "U1")
	req.NoError(err)
	req.True(online)

	n, err = store.RemoveConnection(ctx, "U1", "c1")
	req.NoError(err)
	req.Equal(1, n)
	n, err = store.RemoveConnection(ctx, "U1", "c2")
	req.NoError(err)
	req.Zero(n)

	online, err = store.IsOnline(ctx, "U1")
	req.NoError(err)
	req.False(online)
	req.False(mr.Exists(presenceKey("U1")))
}

func TestPresenceStore_ExpiresWithoutTouch(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewPresenceStore(client, time.Minute)

	_, err := store.AddConnection(ctx, "U1", "c1")
	req.NoError(err)

	mr.FastForward(40 * time.Second)
	req.NoError(store.Touch(ctx, "U1"))
	mr.FastForward(40 * time.Second)

	online, err := store.IsOnline(ctx, "U1")
	req.NoError(err)
	req.True(online)

	mr.FastForward(time.Minute)
	online, err = store.IsOnline(ctx, "U1")
	req.NoError(err)
	req.False(online)
}

func TestPresenceStore_FailsWhenServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := NewRedisClientFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	store := NewPresenceStore(client, time.Minute)
	mr.Close()

	_, err = store.IsOnline(context.Background(), "U1")
	require.Error(t, err)
}

func TestCounterStore_FixedWindow(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewCounterStore(client)

	for want := int64(1); want <= 3; want++ {
		n, err := store.Increment(ctx, "ratelimit:U1:message:send", time.Minute)
		req.NoError(err)
		req.Equal(want, n)
	}

	// later increments do not extend the window
	mr.FastForward(30 * time.Second)
	_, err := store.Increment(ctx, "ratelimit:U1:message:send", time.Minute)
	req.NoError(err)
	mr.FastForward(31 * time.Second)

	n, err := store.Increment(ctx, "ratelimit:U1:message:send", time.Minute)
	req.NoError(err)
	req.Equal(int64(1), n)
}

func TestOfflineStore_PushTrimAndPopAll(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewOfflineStore(client, time.Hour, 2)

	dropped, err := store.Push(ctx, "U2", []byte("m1"))
	req.NoError(err)
	req.Zero(dropped)
	_, err = store.Push(ctx, "U2", []byte("m2"))
	req.NoError(err)
	dropped, err = store.Push(ctx, "U2", []byte("m3"))
	req.NoError(err)
	req.Equal(1, dropped)

	events, err := store.PopAll(ctx, "U2")
	req.NoError(err)
	req.Equal([][]byte{[]byte("m2"), []byte("m3")}, events)

	events, err = store.PopAll(ctx, "U2")
	req.NoError(err)
	req.Empty(events)
}

func TestOfflineStore_PushFrontKeepsOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewOfflineStore(client, time.Hour, 10)

	_, err := store.Push(ctx, "U2", []byte("m3"))
	req.NoError(err)
	req.NoError(store.PushFront(ctx, "U2", [][]byte{[]byte("m1"), []byte("m2")}))

	events, err := store.PopAll(ctx, "U2")
	req.NoError(err)
	req.Equal([][]byte{[]byte("m1"), []byte("m2"), []byte("m3")}, events)
}

func TestOfflineStore_Expires(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewOfflineStore(client, time.Minute, 10)

	_, err := store.Push(ctx, "U2", []byte("m1"))
	req.NoError(err)
	mr.FastForward(2 * time.Minute)

	events, err := store.PopAll(ctx, "U2")
	req.NoError(err)
	req.Empty(events)
}

func TestBus_DeliversToEverySubscriber(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, _ := newTestClient(t)

	busA := NewBus(client, "realtime.rooms", zerolog.Nop())
	busB := NewBus(client, "realtime.rooms", zerolog.Nop())

	var mu sync.Mutex
	var got []string
	record := func(name string) func(fanout.Envelope) {
		return func(env fanout.Envelope) {
			mu.Lock()
			got = append(got, name+":"+env.Room)
			mu.Unlock()
		}
	}
	req.NoError(busA.Subscribe(ctx, record("a")))
	req.NoError(busB.Subscribe(ctx, record("b")))

	req.NoError(busA.Publish(ctx, fanout.Envelope{Room: "user:U2", Event: "message:new", Payload: []byte(`{}`), Origin: "a"}))

	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	req.ElementsMatch([]string{"a:user:U2", "b:user:U2"}, got)
	mu.Unlock()
}

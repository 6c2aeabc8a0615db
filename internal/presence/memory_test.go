package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_OnlineLifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMemory()

	online, err := m.IsOnline(ctx, "U1")
	req.NoError(err)
	req.False(online)

	count, err := m.AddConnection(ctx, "U1", "c1")
	req.NoError(err)
	req.Equal(1, count)
	count, err = m.AddConnection(ctx, "U1", "c2")
	req.NoError(err)
	req.Equal(2, count)

	count, err = m.RemoveConnection(ctx, "U1", "c1")
	req.NoError(err)
	req.Equal(1, count)
	online, _ = m.IsOnline(ctx, "U1")
	req.True(online)

	count, err = m.RemoveConnection(ctx, "U1", "c2")
	req.NoError(err)
	req.Zero(count)
	online, _ = m.IsOnline(ctx, "U1")
	req.False(online)
	req.Zero(m.Len())
}

func TestMemory_AddIsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMemory()

	_, _ = m.AddConnection(ctx, "U1", "c1")
	count, err := m.AddConnection(ctx, "U1", "c1")
	req.NoError(err)
	req.Equal(1, count)
}

func TestMemory_RemoveUnknown(t *testing.T) {
	req := require.New(t)
	count, err := NewMemory().RemoveConnection(context.Background(), "U1", "c1")
	req.NoError(err)
	req.Zero(count)
}

func TestMemory_RejectsEmptyIDs(t *testing.T) {
	_, err := NewMemory().AddConnection(context.Background(), "", "c1")
	require.Error(t, err)
}

func TestMemory_ConcurrentConnections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMemory()

	const identities, devices = 50, 8
	var wg sync.WaitGroup
	for i := 0; i < identities; i++ {
		for d := 0; d < devices; d++ {
			wg.Add(1)
			go func(i, d int) {
				defer wg.Done()
				id := fmt.Sprintf("U%d", i)
				conn := fmt.Sprintf("c%d", d)
				_, _ = m.AddConnection(ctx, id, conn)
				if d%2 == 0 {
					_, _ = m.RemoveConnection(ctx, id, conn)
				}
			}(i, d)
		}
	}
	wg.Wait()

	req.Equal(identities, m.Len())
	for i := 0; i < identities; i++ {
		online, err := m.IsOnline(ctx, fmt.Sprintf("U%d", i))
		req.NoError(err)
		req.True(online)
	}
}

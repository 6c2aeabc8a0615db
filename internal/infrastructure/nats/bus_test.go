package nats

import (
	"context"
	"testing"
	"time"

	"realtime-ws/internal/fanout"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewBus_UnreachableServerDoesNotFail(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig("nats://127.0.0.1:1", "realtime.fanout")
	cfg.ReconnectWait = 50 * time.Millisecond

	bus, err := NewBus(cfg, zerolog.Nop())
	req.NoError(err)
	defer bus.conn.Close()
	req.False(bus.IsConnected())

	err = bus.Subscribe(context.Background(), func(fanout.Envelope) {})
	req.ErrorIs(err, errNotConnected)
}

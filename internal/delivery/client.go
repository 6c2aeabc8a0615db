package delivery

import (
	"errors"
	"sync"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	errClientClosed = errors.New("connection closed")
	errSlowClient   = errors.New("send buffer full")
)

// wsConn is the part of a websocket connection a client uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one authenticated connection. The read loop runs on the handler
// goroutine; writePump is the only writer after the handshake.
type Client struct {
	id       string
	identity domain.Identity
	openedAt time.Time
	conn     wsConn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	frames   *rate.Limiter
	log      zerolog.Logger

	// While draining, live frames are held back so that queued events go out
	// first. Live copies of queued events are dropped while draining and for
	// dedupeWindow after it, since the bus may deliver them late.
	mu           sync.Mutex
	draining     bool
	held         [][]byte
	queued       map[string]struct{}
	queuedUntil  time.Time
	dedupeWindow time.Duration
}

func newClient(id string, identity domain.Identity, conn wsConn, cfg ClientConfig, log zerolog.Logger) *Client {
	return &Client{
		id:       id,
		identity: identity,
		openedAt: time.Now().UTC(),
		conn:     conn,
		send:     make(chan []byte, cfg.SendBufferSize),
		done:     make(chan struct{}),
		frames:   rate.NewLimiter(rate.Limit(cfg.FrameRate), cfg.FrameBurst),
		draining:     true,
		queued:       make(map[string]struct{}),
		dedupeWindow: cfg.DedupeWindow,
		log: log.With().
			Str("connection_id", id).
			Str("identity_id", identity.ID).
			Logger(),
	}
}

func (c *Client) ID() string         { return c.id }
func (c *Client) IdentityID() string { return c.identity.ID }

// Send queues a live frame without blocking. A client whose buffer is full is
// disconnected.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	if c.draining {
		if len(c.held) >= cap(c.send) {
			c.mu.Unlock()
			c.disconnectSlow("held buffer full during drain, disconnecting slow client")
			return errSlowClient
		}
		c.held = append(c.held, frame)
		c.mu.Unlock()
		return nil
	}
	if c.seenInQueue(frame) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.push(frame)
}

// seenInQueue reports and forgets a frame already replayed from the offline
// queue. c.mu must be held.
func (c *Client) seenInQueue(frame []byte) bool {
	if len(c.queued) == 0 {
		return false
	}
	if time.Now().After(c.queuedUntil) {
		c.queued = nil
		return false
	}
	if _, ok := c.queued[string(frame)]; !ok {
		return false
	}
	delete(c.queued, string(frame))
	return true
}

func (c *Client) disconnectSlow(msg string) {
	observability.SlowClientsDisconnected.Inc()
	c.log.Warn().Msg(msg)
	c.close()
}

func (c *Client) push(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.disconnectSlow("send buffer full, disconnecting slow client")
		return errSlowClient
	}
}

// deliverQueued hands one offline event to the writer, waiting for buffer
// space up to wait.
func (c *Client) deliverQueued(frame []byte, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case c.send <- frame:
	case <-c.done:
		return errClientClosed
	case <-timer.C:
		return errSlowClient
	}
	c.mu.Lock()
	c.queued[string(frame)] = struct{}{}
	c.mu.Unlock()
	return nil
}

// finishDrain releases the frames held during the drain, skipping those
// already delivered from the queue. The remaining queued set keeps filtering
// live frames until the dedupe window expires.
func (c *Client) finishDrain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.held
	c.held, c.draining = nil, false
	c.queuedUntil = time.Now().Add(c.dedupeWindow)

	for _, frame := range held {
		if _, dup := c.queued[string(frame)]; dup {
			delete(c.queued, string(frame))
			continue
		}
		if err := c.push(frame); err != nil {
			return
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writePump(cfg ClientConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

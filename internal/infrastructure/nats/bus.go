// Package nats provides a fanout bus over a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"realtime-ws/internal/fanout"
	"realtime-ws/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

var errNotConnected = errors.New("NATS connection not established")

type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
}

func DefaultConfig(url, subject string) Config {
	return Config{
		URL:           url,
		Subject:       subject,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		PingInterval:  20 * time.Second,
	}
}

type Bus struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

func NewBus(config Config, log zerolog.Logger) (*Bus, error) {
	b := &Bus{subject: config.Subject, log: observability.Component(log, "nats_bus")}

	opts := []nats.Option{
		// An unreachable server at startup is retried like a dropped connection.
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.PingInterval(config.PingInterval),
		nats.DisconnectErrHandler(b.disconnectHandler),
		nats.ReconnectHandler(b.reconnectHandler),
		nats.ErrorHandler(b.errorHandler),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.conn = conn
	if conn.IsConnected() {
		b.log.Info().Str("url", conn.ConnectedUrl()).Msg("connected to NATS")
	} else {
		b.log.Warn().Str("url", config.URL).Msg("NATS unreachable, connecting in background")
	}
	return b, nil
}

func (b *Bus) disconnectHandler(_ *nats.Conn, err error) {
	if err != nil {
		b.log.Warn().Err(err).Msg("disconnected from NATS")
		return
	}
	b.log.Info().Msg("disconnected from NATS")
}

func (b *Bus) reconnectHandler(conn *nats.Conn) {
	b.log.Info().Str("url", conn.ConnectedUrl()).Msg("reconnected to NATS")
}

func (b *Bus) errorHandler(_ *nats.Conn, _ *nats.Subscription, err error) {
	b.log.Error().Err(err).Msg("NATS error")
}

func (b *Bus) Publish(_ context.Context, env fanout.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.subject, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, handle func(fanout.Envelope)) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("subscribe to %s: %w", b.subject, errNotConnected)
	}
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var env fanout.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.log.Error().Err(err).Msg("dropping malformed fanout envelope")
			return
		}
		handle(env)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	// The subscription is live once the server has processed it.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription %s: %w", b.subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && b.conn.IsConnected() {
			b.log.Warn().Err(err).Msg("unsubscribe failed")
		}
	}()
	return nil
}

func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *Bus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

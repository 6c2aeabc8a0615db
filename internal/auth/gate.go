package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
)

// Gate authenticates every incoming connection before any event is processed.
// It performs no retries; a refused client must open a new handshake.
type Gate struct {
	verifier Verifier
	timeout  time.Duration
	log      zerolog.Logger
}

func NewGate(verifier Verifier, timeout time.Duration, log zerolog.Logger) *Gate {
	return &Gate{
		verifier: verifier,
		timeout:  timeout,
		log:      observability.Component(log, "gate"),
	}
}

// Timeout is the bound on a whole handshake, including waiting for an auth frame.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Authenticate verifies rawCredential within the gate timeout.
func (g *Gate) Authenticate(ctx context.Context, rawCredential string) (domain.Identity, error) {
	token := NormalizeToken(rawCredential)
	if token == "" {
		observability.AuthFailures.Inc()
		return domain.Identity{}, fmt.Errorf("%w: token required", domain.ErrAuth)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		identity domain.Identity
		err      error
	}
	done := make(chan result, 1)
	go func() {
		identity, err := g.verifier.Verify(ctx, token)
		done <- result{identity, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			observability.AuthFailures.Inc()
			g.log.Debug().Err(res.err).Msg("handshake refused")
			return domain.Identity{}, res.err
		}
		return res.identity, nil
	case <-ctx.Done():
		observability.AuthFailures.Inc()
		g.log.Warn().Dur("timeout", g.timeout).Msg("handshake timed out")
		return domain.Identity{}, fmt.Errorf("%w: handshake timed out", domain.ErrAuth)
	}
}

// NormalizeToken trims whitespace and an optional "Bearer " prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// Package presence tracks which identities hold at least one open connection.
package presence

import (
	"context"
	"fmt"

	"realtime-ws/internal/domain"
)

// Registry is the presence store. The in-memory implementation serves a single
// process; the Redis implementation makes presence visible cluster-wide.
type Registry interface {
	// AddConnection inserts connectionID and returns the identity's connection count.
	AddConnection(ctx context.Context, identityID, connectionID string) (int, error)
	// RemoveConnection removes connectionID and returns the remaining count.
	// The entry disappears when the count reaches zero.
	RemoveConnection(ctx context.Context, identityID, connectionID string) (int, error)
	IsOnline(ctx context.Context, identityID string) (bool, error)
	// Touch extends the lifetime of an entry in stores that expire stale entries.
	Touch(ctx context.Context, identityID string) error
}

func validateIDs(identityID, connectionID string) error {
	if identityID == "" || connectionID == "" {
		return fmt.Errorf("%w: identity and connection id required", domain.ErrValidation)
	}
	return nil
}

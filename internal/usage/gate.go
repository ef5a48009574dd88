// Package usage is the admission-control layer enforcing per-project plan
// limits: concurrent connections, incoming messages (client to gateway), and
// outgoing messages (webhook response to client). Counters live in the
// shared store so every node sees the same values.
package usage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Counters is the atomic counter primitive the gate runs on. Get returns 0
// for a key that was never incremented. Decr must never drive a counter
// below zero.
type Counters interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
}

func connectionsKey(projectID int64) string {
	return fmt.Sprintf("usage:%d:connections", projectID)
}

func incomingKey(projectID int64) string {
	return fmt.Sprintf("usage:%d:messages:in", projectID)
}

func outgoingKey(projectID int64) string {
	return fmt.Sprintf("usage:%d:messages:out", projectID)
}

// Gate answers "can this project take one more X" and mutates the underlying
// counters. Checks never increment; a denial is always side-effect free.
type Gate struct {
	counters Counters
	log      zerolog.Logger
}

// NewGate creates a gate over the given counter backend.
func NewGate(counters Counters, log zerolog.Logger) *Gate {
	return &Gate{
		counters: counters,
		log:      log.With().Str("component", "usage").Logger(),
	}
}

// A limit of zero or below means the plan does not cap this dimension.
func (g *Gate) allowed(ctx context.Context, key string, limit int64) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	current, err := g.counters.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read counter %s: %w", key, err)
	}
	return current < limit, nil
}

// CheckConnections reports whether the project may accept one more
// concurrent connection.
func (g *Gate) CheckConnections(ctx context.Context, projectID, limit int64) (bool, error) {
	return g.allowed(ctx, connectionsKey(projectID), limit)
}

// ConnectionOpened records a new concurrent connection.
func (g *Gate) ConnectionOpened(ctx context.Context, projectID int64) error {
	_, err := g.counters.Incr(ctx, connectionsKey(projectID))
	return err
}

// ConnectionClosed releases one concurrent connection slot. Callers must
// invoke it exactly once per close, regardless of how the close happened.
func (g *Gate) ConnectionClosed(ctx context.Context, projectID int64) error {
	_, err := g.counters.Decr(ctx, connectionsKey(projectID))
	return err
}

// CheckIncoming reports whether one more client-to-gateway message fits the
// plan.
func (g *Gate) CheckIncoming(ctx context.Context, projectID, limit int64) (bool, error) {
	return g.allowed(ctx, incomingKey(projectID), limit)
}

// IncomingAccepted records an accepted client message.
func (g *Gate) IncomingAccepted(ctx context.Context, projectID int64) error {
	_, err := g.counters.Incr(ctx, incomingKey(projectID))
	return err
}

// CheckOutgoing reports whether one more webhook-requested message fits the
// plan.
func (g *Gate) CheckOutgoing(ctx context.Context, projectID, limit int64) (bool, error) {
	return g.allowed(ctx, outgoingKey(projectID), limit)
}

// OutgoingAccepted records an accepted outbound message.
func (g *Gate) OutgoingAccepted(ctx context.Context, projectID int64) error {
	_, err := g.counters.Incr(ctx, outgoingKey(projectID))
	return err
}

// Package reaper detects gateway nodes that died without closing their
// sockets and deletes their connection records from the shared store. It is
// what keeps stored ownership eventually consistent with reality after a
// crash; without it, orphaned records would pin usage counters and feed
// membership forever.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wosherco/socketless/internal/channel"
	"github.com/wosherco/socketless/internal/metrics"
	"github.com/wosherco/socketless/internal/pubsub"
)

// Store is the slice of the shared store the reaper needs.
type Store interface {
	Nodes(ctx context.Context) ([]string, error)
	DeleteNodeConnections(ctx context.Context, node string) (int64, error)
}

// Reaper runs the periodic liveness sweep.
type Reaper struct {
	store    Store
	broker   pubsub.Broker
	interval time.Duration
	deadline time.Duration
	metrics  *metrics.Registry
	log      zerolog.Logger
}

// New creates a reaper. interval is the sweep period, deadline how long a
// node gets to answer a ping.
func New(store Store, broker pubsub.Broker, interval, deadline time.Duration, m *metrics.Registry, log zerolog.Logger) *Reaper {
	return &Reaper{
		store:    store,
		broker:   broker,
		interval: interval,
		deadline: deadline,
		metrics:  m,
		log:      log.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep checks every node that currently claims connection records. Each
// check is independent and time-bounded: one dead or slow node never blocks
// the verdict on the others.
func (r *Reaper) Sweep(ctx context.Context) {
	nodes, err := r.store.Nodes(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("listing nodes failed, skipping sweep")
		return
	}
	if len(nodes) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			r.checkNode(ctx, node)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reaper) checkNode(ctx context.Context, node string) {
	if r.metrics != nil {
		r.metrics.NodesChecked.Inc()
	}

	alive, err := r.pingNode(ctx, node)
	if err != nil {
		// Broker trouble is not evidence the node is dead. Leave its
		// records alone until a clean check fails.
		r.log.Error().Err(err).Str("node", node).Msg("liveness check errored")
		return
	}
	if alive {
		return
	}

	deleted, err := r.store.DeleteNodeConnections(ctx, node)
	if err != nil {
		r.log.Error().Err(err).Str("node", node).Msg("reap failed")
		return
	}
	if r.metrics != nil {
		r.metrics.RecordsReaped.Add(float64(deleted))
	}
	r.log.Warn().
		Str("node", node).
		Int64("records", deleted).
		Msg("node unresponsive, connection records reaped")
}

// pingNode publishes a ping on the node's heartbeat channel and waits up to
// the deadline for the node's pong on the same channel. The reaper's own
// ping echoes back and is ignored.
func (r *Reaper) pingNode(ctx context.Context, node string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	heartbeat := channel.NodeHeartbeat(node)
	sub, err := r.broker.Subscribe(ctx, heartbeat)
	if err != nil {
		return false, err
	}
	defer sub.Close()

	if err := r.broker.Publish(ctx, heartbeat, []byte(channel.HeartbeatPing)); err != nil {
		return false, err
	}

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return false, nil
			}
			if string(msg.Payload) == channel.HeartbeatPong {
				return true, nil
			}
		}
	}
}

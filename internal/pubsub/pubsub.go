// Package pubsub is the cross-node fan-out bridge. Every published message
// reaches, at most once and in per-channel publish order, every connection
// subscribed to that channel on any node.
package pubsub

import "context"

// Message is one delivery from the broker.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is one connection's view of the broker: a dynamic channel set
// and an in-order delivery stream. Close stops the stream and releases the
// underlying broker connection; it is safe to call more than once.
type Subscription interface {
	Add(ctx context.Context, channels ...string) error
	Remove(ctx context.Context, channels ...string) error
	Messages() <-chan Message
	Close() error
}

// Broker publishes to and subscribes from named channels.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker implements Broker on Redis pub/sub. Publishing goes through
// the shared pooled client; each Subscribe takes a dedicated connection, as
// Redis requires for subscribers.
type RedisBroker struct {
	rdb redis.UniversalClient
	log zerolog.Logger
}

// NewRedisBroker wraps an existing Redis client.
func NewRedisBroker(rdb redis.UniversalClient, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{
		rdb: rdb,
		log: log.With().Str("component", "pubsub").Logger(),
	}
}

// Health pings the Redis instance behind the broker.
func (b *RedisBroker) Health(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channels...)

	// Force the subscribe round trip so callers observe failures here
	// instead of on the first missed message. With no initial channels there
	// is no confirmation to wait for.
	if len(channels) > 0 {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("subscribe %v: %w", channels, err)
		}
	}

	sub := &redisSubscription{
		ps:  ps,
		out: make(chan Message, 256),
		log: b.log,
	}
	go sub.pump()

	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan Message
	log       zerolog.Logger
	closeOnce sync.Once
}

// pump converts the go-redis delivery stream into the broker-neutral one.
// It exits when the PubSub is closed.
func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Add(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	if err := s.ps.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return nil
}

func (s *redisSubscription) Remove(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	if err := s.ps.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("unsubscribe %v: %w", channels, err)
	}
	return nil
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ps.Close()
	})
	return err
}

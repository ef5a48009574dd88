package pubsub

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker with the same delivery semantics as
// the Redis one: at-most-once, per-channel publish order, slow subscribers
// dropped rather than blocked. Used in tests and single-node development.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		sub.deliver(channel, payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	sub := &memorySubscription{
		broker:   b,
		channels: make(map[string]struct{}, len(channels)),
		out:      make(chan Message, 256),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

type memorySubscription struct {
	broker   *MemoryBroker
	mu       sync.Mutex
	channels map[string]struct{}
	out      chan Message
	closed   bool
}

func (s *memorySubscription) deliver(channel string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.channels[channel]; !ok {
		return
	}
	select {
	case s.out <- Message{Channel: channel, Payload: payload}:
	default:
		// Subscriber is not draining; drop instead of blocking publishers.
	}
}

func (s *memorySubscription) Add(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return nil
}

func (s *memorySubscription) Remove(_ context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	return nil
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

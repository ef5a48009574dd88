package pubsub

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func assertSilent(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected delivery: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerDelivery(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := broker.Publish(ctx, "a", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := broker.Publish(ctx, "b", []byte("other-channel")); err != nil {
		t.Fatal(err)
	}

	msg := recv(t, sub)
	if msg.Channel != "a" || string(msg.Payload) != "one" {
		t.Errorf("got %+v", msg)
	}
	assertSilent(t, sub)
}

func TestMemoryBrokerPerChannelOrder(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	for _, p := range []string{"1", "2", "3"} {
		if err := broker.Publish(ctx, "a", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"1", "2", "3"} {
		if got := string(recv(t, sub).Payload); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestMemoryBrokerDynamicSubscription(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := broker.Publish(ctx, "a", []byte("early")); err != nil {
		t.Fatal(err)
	}
	assertSilent(t, sub)

	if err := sub.Add(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := broker.Publish(ctx, "a", []byte("now")); err != nil {
		t.Fatal(err)
	}
	if got := string(recv(t, sub).Payload); got != "now" {
		t.Fatalf("got %q", got)
	}

	if err := sub.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := broker.Publish(ctx, "a", []byte("late")); err != nil {
		t.Fatal(err)
	}
	assertSilent(t, sub)
}

func TestMemoryBrokerCloseStopsDelivery(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sub.Close(); err != nil {
		t.Fatal(err) // double close is legal
	}

	if err := broker.Publish(ctx, "a", []byte("x")); err != nil {
		t.Fatal(err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("messages channel still open after Close")
	}
}

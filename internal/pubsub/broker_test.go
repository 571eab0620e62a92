package pubsub

import (
	"context"
	"testing"
	"time"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker[string]()
	defer b.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := b.Subscribe(ctx)
	second := b.Subscribe(ctx)
	b.Publish(MessageAppended, "hello")

	for i, ch := range []<-chan Event[string]{first, second} {
		select {
		case ev := <-ch:
			if ev.Type != MessageAppended || ev.Payload != "hello" {
				t.Fatalf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	defer b.Shutdown()

	ch := b.Subscribe(context.Background())
	b.Publish(TokensUpdated, 1)
	b.Publish(TokensUpdated, 2)

	ev := <-ch
	if ev.Payload != 1 {
		t.Fatalf("expected first event to survive, got %d", ev.Payload)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected second event to be dropped, got %+v", ev)
	default:
	}
}

func TestBrokerUnsubscribesOnCancel(t *testing.T) {
	b := NewBroker[string]()
	defer b.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed")
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestBrokerShutdown(t *testing.T) {
	b := NewBroker[string]()
	ch := b.Subscribe(context.Background())
	b.Shutdown()
	b.Shutdown()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed by shutdown")
	}
	if _, ok := <-b.Subscribe(context.Background()); ok {
		t.Fatal("expected closed channel from shut down broker")
	}
	b.Publish(SessionCreated, "ignored")
}

package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishSubscribe(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ev := Event{Type: TypeAcquired, Resource: "res", Owner: "worker-A", At: time.Now()}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Type != TypeAcquired || got.Owner != "worker-A" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	m := bus.Metrics()
	if m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("metrics %+v, want 1/1", m)
	}
}

func TestInMemorySubscriptionIsolatedByResource(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "other")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, Event{Type: TypeReleased, Resource: "res"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("event leaked across resources: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryContextBasedUnsubscribe(t *testing.T) {
	bus := NewInMemory()
	subCtx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(subCtx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

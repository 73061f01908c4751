package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisBus(client)
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	bus := newRedisBus(t)
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Redis subscriptions are established asynchronously.
	time.Sleep(50 * time.Millisecond)

	ev := Event{Type: TypeAcquired, Resource: "res", Owner: "worker-A", At: time.Now().UTC()}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Type != TypeAcquired || got.Resource != "res" || got.Owner != "worker-A" {
			t.Fatalf("unexpected event %+v", got)
		}
		if got.ID == "" {
			t.Fatal("publish did not assign an event id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestRedisBusUnsubscribeClosesChannel(t *testing.T) {
	bus := newRedisBus(t)
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "res", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed on unsubscribe")
	}
}

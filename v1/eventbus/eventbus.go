// Package eventbus propagates lease lifecycle events across nodes. The
// kernel publishes an event for every transition; watchers and other nodes
// subscribe per resource. Delivery is best effort: the bus is observability
// plumbing, never part of the mutual-exclusion protocol.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Type classifies a lease transition.
type Type string

const (
	TypeAcquired Type = "acquired"
	TypeExtended Type = "extended"
	TypeReleased Type = "released"
	TypeForced   Type = "forced"
	TypeExpired  Type = "expired"
)

// Event describes a single lease transition on a resource.
type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	Resource string    `json:"resourceName"`
	Owner    string    `json:"lockedBy,omitempty"`
	At       time.Time `json:"at"`
}

// Bus provides pub/sub for lease events, keyed by resource name.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, resource string) (chan Event, error)
	Unsubscribe(ctx context.Context, resource string, ch chan Event) error
}

// Metrics reports bus activity counters.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// InMemory is a local implementation of Bus, and the default for
// single-node deployments and tests.
type InMemory struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemory returns a new InMemory bus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string][]chan Event)}
}

// Publish implements Bus.Publish.
func (b *InMemory) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	chans := append([]chan Event(nil), b.subs[ev.Resource]...)
	b.mu.Unlock()
	b.published.Add(1)
	for _, ch := range chans {
		select {
		case ch <- ev:
			b.delivered.Add(1)
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe. The channel is closed when the
// context is cancelled.
func (b *InMemory) Subscribe(ctx context.Context, resource string) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[resource] = append(b.subs[resource], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), resource, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemory) Unsubscribe(ctx context.Context, resource string, ch chan Event) error {
	b.mu.Lock()
	subs := b.subs[resource]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[resource] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, resource)
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns activity counters.
func (b *InMemory) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

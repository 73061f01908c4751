package store

import (
	"context"
	"sync"
	"time"

	"github.com/mirkobrombin/go-reslock/v1/lease"
)

// InMemory is a Store backed by a map, for tests and single-node use.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]lease.Lease
}

// NewInMemory returns a new InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string]lease.Lease)}
}

// Get implements Store.Get.
func (s *InMemory) Get(ctx context.Context, resource string) (*lease.Lease, bool, error) {
	s.mu.RLock()
	l, ok := s.items[resource]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	cp := l
	return &cp, true, nil
}

// Insert implements Store.Insert.
func (s *InMemory) Insert(ctx context.Context, l *lease.Lease, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[l.Resource]; ok && !cur.Expired(now) {
		return false, nil
	}
	s.items[l.Resource] = *l
	return true, nil
}

// Update implements Store.Update.
func (s *InMemory) Update(ctx context.Context, l *lease.Lease) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[l.Resource]
	if !ok || cur.ID != l.ID {
		return false, nil
	}
	s.items[l.Resource] = *l
	return true, nil
}

// Delete implements Store.Delete.
func (s *InMemory) Delete(ctx context.Context, resource string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[resource]; !ok {
		return false, nil
	}
	delete(s.items, resource)
	return true, nil
}

// DeleteByID implements Store.DeleteByID.
func (s *InMemory) DeleteByID(ctx context.Context, resource, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[resource]
	if !ok || cur.ID != id {
		return false, nil
	}
	delete(s.items, resource)
	return true, nil
}

// List implements Store.List.
func (s *InMemory) List(ctx context.Context) ([]*lease.Lease, error) {
	s.mu.RLock()
	out := make([]*lease.Lease, 0, len(s.items))
	for _, l := range s.items {
		cp := l
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	return out, nil
}

// DeleteExpired implements Store.DeleteExpired.
func (s *InMemory) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, l := range s.items {
		if l.Expired(now) {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

// Ping implements Store.Ping.
func (s *InMemory) Ping(ctx context.Context) error {
	return nil
}

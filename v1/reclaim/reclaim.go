// Package reclaim removes expired lease records on a fixed period. The
// sweep is storage hygiene, not correctness: lazy filtering on the read
// paths already guarantees an expired lease is never observed as active.
package reclaim

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-reslock/v1/eventbus"
	"github.com/mirkobrombin/go-reslock/v1/metrics"
	"github.com/mirkobrombin/go-reslock/v1/store"
)

// DefaultInterval is the default sweep period.
const DefaultInterval = 60 * time.Second

// Reclaimer periodically deletes expired lease records.
type Reclaimer struct {
	store    store.Store
	bus      eventbus.Bus
	interval time.Duration
	now      func() time.Time
}

// Option configures a Reclaimer.
type Option func(*Reclaimer)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) Option {
	return func(r *Reclaimer) {
		r.interval = d
	}
}

// WithBus sets the bus on which expiry events are published, best effort.
func WithBus(bus eventbus.Bus) Option {
	return func(r *Reclaimer) {
		r.bus = bus
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reclaimer) {
		r.now = now
	}
}

// New returns a Reclaimer over the given store.
func New(s store.Store, opts ...Option) *Reclaimer {
	r := &Reclaimer{store: s, interval: DefaultInterval, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps on a fixed ticker until the context is cancelled. A cycle
// that hits a store error is logged and skipped; the next tick retries
// independently, since sweeps are idempotent and order-independent.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.WithField("interval", r.interval).Info("expiry reclaimer started")
	for {
		select {
		case <-ctx.Done():
			log.Info("expiry reclaimer stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs a single reclaim cycle, answering how many records were
// removed. Safe to call at any time alongside live traffic.
func (r *Reclaimer) Sweep(ctx context.Context) int {
	now := r.now()
	r.announceExpired(ctx, now)
	removed, err := r.store.DeleteExpired(ctx, now)
	if err != nil {
		metrics.SweepErrorCounter.Inc()
		log.WithError(err).Warn("reclaim cycle failed, will retry on next tick")
		return removed
	}
	if removed > 0 {
		metrics.SweptCounter.Add(float64(removed))
		log.WithField("removed", removed).Info("reclaimed expired leases")
	}
	return removed
}

// announceExpired publishes an expiry event for each record about to be
// reclaimed. Best effort: a failed read here never blocks the sweep.
func (r *Reclaimer) announceExpired(ctx context.Context, now time.Time) {
	if r.bus == nil {
		return
	}
	all, err := r.store.List(ctx)
	if err != nil {
		return
	}
	for _, l := range all {
		if l.Expired(now) {
			_ = r.bus.Publish(ctx, eventbus.Event{
				Type:     eventbus.TypeExpired,
				Resource: l.Resource,
				Owner:    l.Owner,
				At:       now,
			})
		}
	}
}

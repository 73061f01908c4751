// Package kernel implements the lease-based mutual-exclusion protocol:
// acquisition, extension, release, administrative override and status reads.
// The kernel holds no lease state in process memory; every operation is a
// fresh round trip to the store, which is what lets any number of workers
// run it in parallel with no shared in-process lock.
package kernel

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/mirkobrombin/go-reslock/v1/eventbus"
	"github.com/mirkobrombin/go-reslock/v1/lease"
	"github.com/mirkobrombin/go-reslock/v1/metrics"
	"github.com/mirkobrombin/go-reslock/v1/store"
)

// Kernel arbitrates lease acquisition over a shared record store.
type Kernel struct {
	store    store.Store
	bus      eventbus.Bus
	adminKey []byte
	now      func() time.Time
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithBus sets the event bus lease transitions are published on.
func WithBus(bus eventbus.Bus) Option {
	return func(k *Kernel) {
		k.bus = bus
	}
}

// WithAdminKey sets the administrative credential checked by ForceRelease.
func WithAdminKey(key string) Option {
	return func(k *Kernel) {
		k.adminKey = []byte(key)
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(k *Kernel) {
		k.now = now
	}
}

// New returns a Kernel over the given store.
func New(s store.Store, opts ...Option) *Kernel {
	k := &Kernel{store: s, now: time.Now}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Kernel) publish(ctx context.Context, typ eventbus.Type, resource, owner string) {
	if k.bus == nil {
		return
	}
	_ = k.bus.Publish(ctx, eventbus.Event{
		Type:     typ,
		Resource: resource,
		Owner:    owner,
		At:       k.now(),
	})
}

// AcquireRequest carries the parameters of an acquisition attempt.
type AcquireRequest struct {
	Resource     string
	Owner        string
	DurationSecs int64
	Class        lease.Class
	Annotations  map[string]string
}

func (r *AcquireRequest) validate() error {
	fields := make(map[string]string)
	if !lease.ValidName(r.Resource) {
		fields["resourceName"] = fmt.Sprintf("must be 1-%d characters of [a-zA-Z0-9._:/-]", lease.MaxNameLength)
	}
	if r.Owner == "" {
		fields["lockedBy"] = "must not be empty"
	}
	if r.DurationSecs == 0 {
		r.DurationSecs = lease.DefaultDuration
	}
	if r.DurationSecs < lease.MinDuration || r.DurationSecs > lease.MaxDuration {
		fields["lockDuration"] = fmt.Sprintf("must be between %d and %d seconds", lease.MinDuration, lease.MaxDuration)
	}
	if r.Class == "" {
		r.Class = lease.DefaultClass
	}
	if !r.Class.Valid() {
		fields["lockType"] = "must be one of read, write, exclusive"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Acquire attempts to take the lease on a resource. Arbitration is two
// phase: a non-authoritative read rejects obviously held resources fast,
// then the store's atomic insert decides. The pre-check is an optimization,
// never the correctness mechanism; losing the insert race is reported as
// the same ConflictError as the pre-check, with the winner's details
// re-read where available.
func (k *Kernel) Acquire(ctx context.Context, req AcquireRequest) (*lease.Lease, error) {
	if err := (&req).validate(); err != nil {
		return nil, err
	}
	now := k.now()

	if cur, ok, err := k.store.Get(ctx, req.Resource); err != nil {
		return nil, err
	} else if ok && !cur.Expired(now) {
		metrics.ConflictCounter.Inc()
		return nil, &ConflictError{Holder: cur.Owner, Class: cur.Class, RemainingSecs: cur.Remaining(now)}
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("kernel: generate lease id: %w", err)
	}
	l := &lease.Lease{
		ID:          id,
		Resource:    req.Resource,
		Owner:       req.Owner,
		Class:       req.Class,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(time.Duration(req.DurationSecs) * time.Second),
		Duration:    req.DurationSecs,
		Annotations: req.Annotations,
	}
	created, err := k.store.Insert(ctx, l, now)
	if err != nil {
		return nil, err
	}
	if !created {
		// A second writer won between the read-check and the insert. This
		// is the normal outcome of contention, not an error.
		metrics.ConflictCounter.Inc()
		conflict := &ConflictError{}
		if winner, ok, err := k.store.Get(ctx, req.Resource); err == nil && ok && !winner.Expired(k.now()) {
			conflict.Holder = winner.Owner
			conflict.Class = winner.Class
			conflict.RemainingSecs = winner.Remaining(k.now())
		}
		return nil, conflict
	}

	metrics.AcquireCounter.Inc()
	k.publish(ctx, eventbus.TypeAcquired, l.Resource, l.Owner)
	return l, nil
}

// Extend pushes the expiry of an active lease forward by additionalSecs.
// It requires a non-expired lease matching both resource and owner;
// anything else is ErrNotFound. There is no cumulative ceiling on the
// resulting expiry, only the per-call bound on additionalSecs. The
// returned view derives remaining time from the current clock, not the
// acquisition instant.
func (k *Kernel) Extend(ctx context.Context, resource, owner string, additionalSecs int64) (*lease.View, error) {
	if additionalSecs < lease.MinDuration || additionalSecs > lease.MaxDuration {
		return nil, &ValidationError{Fields: map[string]string{
			"additionalSeconds": fmt.Sprintf("must be between %d and %d", lease.MinDuration, lease.MaxDuration),
		}}
	}
	now := k.now()
	cur, ok, err := k.store.Get(ctx, resource)
	if err != nil {
		return nil, err
	}
	if !ok || cur.Expired(now) || cur.Owner != owner {
		return nil, ErrNotFound
	}
	cur.ExpiresAt = cur.ExpiresAt.Add(time.Duration(additionalSecs) * time.Second)
	updated, err := k.store.Update(ctx, cur)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Reclaimed or replaced between the read and the write.
		return nil, ErrNotFound
	}
	metrics.ExtendCounter.Inc()
	k.publish(ctx, eventbus.TypeExtended, resource, owner)
	v := cur.ViewAt(now)
	return &v, nil
}

// Release deletes the lease matching resource and owner. The delete is
// guarded by the lease identifier read during the ownership check: if the
// record expired, was reclaimed and re-acquired under a new identifier in
// between, the delete is a benign no-op rather than a removal of the new
// holder's lease, and the caller still gets success, since they held the
// lease through its window.
func (k *Kernel) Release(ctx context.Context, resource, owner string) error {
	now := k.now()
	cur, ok, err := k.store.Get(ctx, resource)
	if err != nil {
		return err
	}
	if !ok || cur.Expired(now) || cur.Owner != owner {
		return ErrNotFound
	}
	if _, err := k.store.DeleteByID(ctx, resource, cur.ID); err != nil {
		return err
	}
	metrics.ReleaseCounter.Inc()
	k.publish(ctx, eventbus.TypeReleased, resource, owner)
	return nil
}

// ForceRelease removes any record for the resource regardless of owner.
// The admin credential is compared in constant time before storage is
// touched; this is the only operation that does not require knowing the
// current holder. A logically expired record is still physically deleted
// for hygiene, but reported as ErrNotFound, consistent with every other
// path treating expired records as absent.
func (k *Kernel) ForceRelease(ctx context.Context, resource, adminKey string) error {
	if len(k.adminKey) == 0 ||
		subtle.ConstantTimeCompare(k.adminKey, []byte(adminKey)) != 1 {
		return ErrUnauthorized
	}
	now := k.now()
	cur, ok, err := k.store.Get(ctx, resource)
	if err != nil {
		return err
	}
	removed, err := k.store.Delete(ctx, resource)
	if err != nil {
		return err
	}
	if !removed || !ok || cur.Expired(now) {
		return ErrNotFound
	}
	metrics.ForceReleaseCounter.Inc()
	k.publish(ctx, eventbus.TypeForced, resource, cur.Owner)
	return nil
}

// Status answers the current state of a resource. A nil view means the
// resource is available; a logically expired record reads as available
// even before the sweeper has removed it.
func (k *Kernel) Status(ctx context.Context, resource string) (*lease.View, error) {
	now := k.now()
	cur, ok, err := k.store.Get(ctx, resource)
	if err != nil {
		return nil, err
	}
	if !ok || cur.Expired(now) {
		return nil, nil
	}
	v := cur.ViewAt(now)
	return &v, nil
}

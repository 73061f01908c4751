// Package store defines the persistent lock-record store and its backends.
// The kernel depends only on the atomic primitives declared here, never on a
// particular engine's query language. Mutual exclusion is ultimately
// delegated to whatever atomicity guarantee each backend's Insert provides.
package store

import (
	"context"
	"time"

	"github.com/mirkobrombin/go-reslock/v1/lease"
)

// Store abstracts the persistent keyed record store shared by all kernel
// workers. Implementations must make Insert atomic with respect to
// concurrent Inserts on the same resource name.
type Store interface {
	// Get retrieves the record for a resource, expired or not.
	// The boolean return indicates whether a record was found.
	Get(ctx context.Context, resource string) (*lease.Lease, bool, error)

	// Insert atomically creates the record keyed by its resource name unless
	// an active (non-expired at now) record already holds the key. A record
	// that is physically present but logically expired is treated as absent
	// and atomically replaced. Returns false when an active record won.
	Insert(ctx context.Context, l *lease.Lease, now time.Time) (bool, error)

	// Update persists a changed expiry for an existing record, guarded by
	// the record's identifier. Returns false when the record no longer
	// exists or has been replaced.
	Update(ctx context.Context, l *lease.Lease) (bool, error)

	// Delete removes the record keyed by resource regardless of owner or
	// expiry. Returns whether a record was physically removed.
	Delete(ctx context.Context, resource string) (bool, error)

	// DeleteByID removes the record keyed by resource only while it still
	// carries the given lease identifier, atomically. A record reclaimed
	// and re-acquired under a new identifier is left untouched and the
	// call returns false.
	DeleteByID(ctx context.Context, resource, id string) (bool, error)

	// List returns every record currently stored, expired ones included.
	// Callers apply lazy-expiry filtering on top.
	List(ctx context.Context) ([]*lease.Lease, error)

	// DeleteExpired bulk-deletes records with expiry at or before now and
	// answers how many were removed. Safe to run repeatedly.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Ping verifies connectivity to the underlying engine.
	Ping(ctx context.Context) error
}

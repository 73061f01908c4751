package store_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-reslock/v1/lease"
	"github.com/mirkobrombin/go-reslock/v1/store"
)

func newRedisStore(t *testing.T) store.Store {
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
	return store.NewRedis(client)
}

func newGormStore(t *testing.T) store.Store {
	t.Helper()
	// Named per test and shared-cache, so every pooled connection sees the
	// same in-memory DB while tests stay isolated from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := store.NewGorm(db)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	return s
}

func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	return map[string]store.Store{
		"memory": store.NewInMemory(),
		"redis":  newRedisStore(t),
		"gorm":   newGormStore(t),
	}
}

func testLease(resource, owner string, acquired time.Time, durationSecs int64) *lease.Lease {
	return &lease.Lease{
		ID:          resource + "-" + owner,
		Resource:    resource,
		Owner:       owner,
		Class:       lease.ClassWrite,
		AcquiredAt:  acquired,
		ExpiresAt:   acquired.Add(time.Duration(durationSecs) * time.Second),
		Duration:    durationSecs,
		Annotations: map[string]string{lease.AnnotationPurpose: "testing"},
	}
}

func TestInsertClaimsFreeResource(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			ok, err := s.Insert(ctx, testLease("res", "alice", now, 60), now)
			if err != nil || !ok {
				t.Fatalf("insert: ok %v err %v", ok, err)
			}
			got, found, err := s.Get(ctx, "res")
			if err != nil || !found {
				t.Fatalf("get: found %v err %v", found, err)
			}
			if got.Owner != "alice" || got.Resource != "res" {
				t.Fatalf("unexpected record %+v", got)
			}
			if got.Annotations[lease.AnnotationPurpose] != "testing" {
				t.Fatalf("annotations not persisted: %+v", got.Annotations)
			}
		})
	}
}

func TestInsertRejectsActiveHolder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			if ok, err := s.Insert(ctx, testLease("res", "alice", now, 60), now); err != nil || !ok {
				t.Fatalf("first insert: ok %v err %v", ok, err)
			}
			ok, err := s.Insert(ctx, testLease("res", "bob", now, 60), now)
			if err != nil {
				t.Fatalf("second insert: %v", err)
			}
			if ok {
				t.Fatal("second insert should lose to the active holder")
			}
			got, _, _ := s.Get(ctx, "res")
			if got.Owner != "alice" {
				t.Fatalf("holder changed to %q", got.Owner)
			}
		})
	}
}

func TestInsertReplacesExpiredRecord(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			stale := now.Add(-2 * time.Minute)

			if ok, err := s.Insert(ctx, testLease("res", "alice", stale, 60), stale); err != nil || !ok {
				t.Fatalf("stale insert: ok %v err %v", ok, err)
			}
			// The expired record is physically present but logically absent.
			ok, err := s.Insert(ctx, testLease("res", "bob", now, 60), now)
			if err != nil || !ok {
				t.Fatalf("insert over expired record: ok %v err %v", ok, err)
			}
			got, _, _ := s.Get(ctx, "res")
			if got.Owner != "bob" {
				t.Fatalf("expected bob to hold the lease, got %q", got.Owner)
			}
		})
	}
}

func TestUpdateGuardedByIdentifier(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			l := testLease("res", "alice", now, 60)

			if ok, err := s.Insert(ctx, l, now); err != nil || !ok {
				t.Fatalf("insert: ok %v err %v", ok, err)
			}
			l.ExpiresAt = l.ExpiresAt.Add(30 * time.Second)
			if ok, err := s.Update(ctx, l); err != nil || !ok {
				t.Fatalf("update: ok %v err %v", ok, err)
			}
			got, _, _ := s.Get(ctx, "res")
			if !got.ExpiresAt.Equal(l.ExpiresAt) {
				t.Fatalf("expiry not persisted: got %v want %v", got.ExpiresAt, l.ExpiresAt)
			}

			ghost := testLease("res", "alice", now, 60)
			ghost.ID = "some-other-id"
			if ok, err := s.Update(ctx, ghost); err != nil || ok {
				t.Fatalf("update with stale identifier should fail: ok %v err %v", ok, err)
			}
		})
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			if removed, err := s.Delete(ctx, "res"); err != nil || removed {
				t.Fatalf("delete of absent record: removed %v err %v", removed, err)
			}
			if ok, err := s.Insert(ctx, testLease("res", "alice", now, 60), now); err != nil || !ok {
				t.Fatalf("insert: ok %v err %v", ok, err)
			}
			if removed, err := s.Delete(ctx, "res"); err != nil || !removed {
				t.Fatalf("delete: removed %v err %v", removed, err)
			}
			if _, found, _ := s.Get(ctx, "res"); found {
				t.Fatal("record survived delete")
			}
		})
	}
}

func TestDeleteByIDGuardedByIdentifier(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			l := testLease("res", "alice", now, 60)

			if ok, err := s.Insert(ctx, l, now); err != nil || !ok {
				t.Fatalf("insert: ok %v err %v", ok, err)
			}
			// A stale identifier must not remove the current record.
			if removed, err := s.DeleteByID(ctx, "res", "some-other-id"); err != nil || removed {
				t.Fatalf("delete with stale identifier: removed %v err %v", removed, err)
			}
			if _, found, _ := s.Get(ctx, "res"); !found {
				t.Fatal("record removed despite identifier mismatch")
			}
			if removed, err := s.DeleteByID(ctx, "res", l.ID); err != nil || !removed {
				t.Fatalf("delete with matching identifier: removed %v err %v", removed, err)
			}
			if _, found, _ := s.Get(ctx, "res"); found {
				t.Fatal("record survived guarded delete")
			}
		})
	}
}

func TestDeleteExpiredIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			stale := now.Add(-2 * time.Minute)

			for i, spec := range []struct {
				resource string
				acquired time.Time
			}{
				{"expired-a", stale},
				{"expired-b", stale},
				{"active", now},
			} {
				l := testLease(spec.resource, "owner", spec.acquired, 60)
				if ok, err := s.Insert(ctx, l, spec.acquired); err != nil || !ok {
					t.Fatalf("insert %d: ok %v err %v", i, ok, err)
				}
			}

			removed, err := s.DeleteExpired(ctx, now)
			if err != nil {
				t.Fatalf("first sweep: %v", err)
			}
			if removed != 2 {
				t.Fatalf("first sweep removed %d, want 2", removed)
			}
			removed, err = s.DeleteExpired(ctx, now)
			if err != nil {
				t.Fatalf("second sweep: %v", err)
			}
			if removed != 0 {
				t.Fatalf("second sweep removed %d, want 0", removed)
			}
			if _, found, _ := s.Get(ctx, "active"); !found {
				t.Fatal("sweep removed a live lease")
			}
		})
	}
}

func TestListReturnsEveryRecord(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			for _, res := range []string{"a", "b", "c"} {
				if ok, err := s.Insert(ctx, testLease(res, "owner", now, 60), now); err != nil || !ok {
					t.Fatalf("insert %q: ok %v err %v", res, ok, err)
				}
			}
			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("list returned %d records, want 3", len(all))
			}
		})
	}
}

func TestPing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Ping(context.Background()); err != nil {
				t.Fatalf("ping: %v", err)
			}
		})
	}
}

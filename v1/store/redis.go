package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mirkobrombin/go-reslock/v1/lease"
)

const (
	keyPrefix           = "reslock:lease:"
	defaultRedisTimeout = 5 * time.Second
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-reslock/v1/store")

// insertScript atomically claims the key unless an active record holds it.
// A physically present but logically expired record is replaced in the same
// step, so an unswept record never blocks acquisition.
var insertScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
    local rec = cjson.decode(cur)
    if tonumber(rec.expiresUnix) > tonumber(ARGV[2]) then
        return 0
    end
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// updateScript replaces the record only while the same lease still holds the
// key, guarded by the lease identifier.
var updateScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
    return 0
end
if cjson.decode(cur).id ~= ARGV[2] then
    return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// deleteScript removes the record only while the same lease still holds
// the key, guarded by the lease identifier.
var deleteScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
    return 0
end
if cjson.decode(cur).id ~= ARGV[1] then
    return 0
end
return redis.call("DEL", KEYS[1])
`)

// reclaimScript deletes the record only if it is still expired, so a sweep
// never races a concurrent extend into deleting a live lease.
var reclaimScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
    return 0
end
if tonumber(cjson.decode(cur).expiresUnix) <= tonumber(ARGV[1]) then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRecord struct {
	lease.Lease
	ExpiresUnix int64 `json:"expiresUnix"`
}

// Redis implements Store using a Redis backend.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisTimeout sets the per-operation timeout for Redis calls.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(s *Redis) {
		s.timeout = d
	}
}

// NewRedis returns a new Redis store using the provided client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{client: client, timeout: defaultRedisTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func encodeRecord(l *lease.Lease) ([]byte, error) {
	return json.Marshal(redisRecord{Lease: *l, ExpiresUnix: l.ExpiresAt.Unix()})
}

func decodeRecord(data []byte) (*lease.Lease, error) {
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: decode lease record: %w", err)
	}
	l := rec.Lease
	return &l, nil
}

// Get implements Store.Get.
func (s *Redis) Get(ctx context.Context, resource string) (*lease.Lease, bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	data, err := s.client.Get(cctx, keyPrefix+resource).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %q: %w", resource, err)
	}
	l, err := decodeRecord(data)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// Insert implements Store.Insert.
func (s *Redis) Insert(ctx context.Context, l *lease.Lease, now time.Time) (bool, error) {
	cctx, span := tracer.Start(ctx, "store.Insert")
	span.SetAttributes(attribute.String("resource", l.Resource))
	defer span.End()
	cctx, cancel := s.opCtx(cctx)
	defer cancel()

	data, err := encodeRecord(l)
	if err != nil {
		return false, err
	}
	n, err := insertScript.Run(cctx, s.client, []string{keyPrefix + l.Resource}, data, now.Unix()).Int()
	if err != nil {
		return false, fmt.Errorf("store: insert %q: %w", l.Resource, err)
	}
	return n == 1, nil
}

// Update implements Store.Update.
func (s *Redis) Update(ctx context.Context, l *lease.Lease) (bool, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	data, err := encodeRecord(l)
	if err != nil {
		return false, err
	}
	n, err := updateScript.Run(cctx, s.client, []string{keyPrefix + l.Resource}, data, l.ID).Int()
	if err != nil {
		return false, fmt.Errorf("store: update %q: %w", l.Resource, err)
	}
	return n == 1, nil
}

// Delete implements Store.Delete.
func (s *Redis) Delete(ctx context.Context, resource string) (bool, error) {
	cctx, span := tracer.Start(ctx, "store.Delete")
	span.SetAttributes(attribute.String("resource", resource))
	defer span.End()
	cctx, cancel := s.opCtx(cctx)
	defer cancel()

	n, err := s.client.Del(cctx, keyPrefix+resource).Result()
	if err != nil {
		return false, fmt.Errorf("store: delete %q: %w", resource, err)
	}
	return n > 0, nil
}

// DeleteByID implements Store.DeleteByID.
func (s *Redis) DeleteByID(ctx context.Context, resource, id string) (bool, error) {
	cctx, span := tracer.Start(ctx, "store.DeleteByID")
	span.SetAttributes(attribute.String("resource", resource))
	defer span.End()
	cctx, cancel := s.opCtx(cctx)
	defer cancel()

	n, err := deleteScript.Run(cctx, s.client, []string{keyPrefix + resource}, id).Int()
	if err != nil {
		return false, fmt.Errorf("store: delete %q: %w", resource, err)
	}
	return n == 1, nil
}

func (s *Redis) scanKeys(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// List implements Store.List using SCAN to iterate over lease keys.
func (s *Redis) List(ctx context.Context) ([]*lease.Lease, error) {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	keys, err := s.scanKeys(cctx)
	if err != nil {
		return nil, err
	}
	out := make([]*lease.Lease, 0, len(keys))
	for _, k := range keys {
		data, err := s.client.Get(cctx, k).Bytes()
		if err == redis.Nil {
			continue // deleted between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("store: list read %q: %w", k, err)
		}
		l, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// DeleteExpired implements Store.DeleteExpired via per-key guarded deletes.
func (s *Redis) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	cctx, span := tracer.Start(ctx, "store.DeleteExpired")
	defer span.End()
	cctx, cancel := s.opCtx(cctx)
	defer cancel()

	keys, err := s.scanKeys(cctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		n, err := reclaimScript.Run(cctx, s.client, []string{k}, now.Unix()).Int()
		if err != nil {
			return removed, fmt.Errorf("store: reclaim %q: %w", k, err)
		}
		removed += n
	}
	span.SetAttributes(attribute.Int("removed", removed))
	return removed, nil
}

// Ping implements Store.Ping.
func (s *Redis) Ping(ctx context.Context) error {
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.client.Ping(cctx).Err(); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/attendance/internal/domain"
)

// DefaultTTL bounds how long a day snapshot is retained.
const DefaultTTL = 14 * 24 * time.Hour

// projectScript applies a snapshot only when it moves the stored copy forward.
var projectScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
  local decoded = cjson.decode(current)
  if decoded.record_id == ARGV[2] and tonumber(decoded.sequence) >= tonumber(ARGV[3]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
return 1
`)

// RedisStore persists snapshots as JSON values keyed per tenant, employee and day.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect initialises a Redis client from a redis:// URL or a host:port address.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedisStore constructs a RedisStore. A non-positive ttl selects DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Get returns nil when no snapshot exists for the day.
func (s *RedisStore) Get(ctx context.Context, tenantID, employeeID, localDate string) (*domain.Snapshot, error) {
	raw, err := s.client.Get(ctx, Key(tenantID, employeeID, localDate)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Put overwrites the snapshot unconditionally.
func (s *RedisStore) Put(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, Key(snap.TenantID, snap.EmployeeID, snap.LocalDate), raw, s.ttl).Err()
}

// Project implements Store atomically on the Redis side.
func (s *RedisStore) Project(ctx context.Context, snap domain.Snapshot) (bool, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}
	key := Key(snap.TenantID, snap.EmployeeID, snap.LocalDate)
	written, err := projectScript.Run(ctx, s.client, []string{key}, raw, snap.RecordID, snap.Sequence, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

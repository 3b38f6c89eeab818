// Package redis provides a Redis-backed Store for reasongate.
//
// Counters are updated with an atomic Lua script so that rate windows,
// usage counters, and concurrency slots are safe across instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/baum777/reasongate"
)

// Store is a Redis-backed Store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var _ reasongate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "reasongate:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed Store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "reasongate:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.keyPrefix + k
}

// incrScript adds to a counter and applies the expiry only when the key
// has none, which is the case right after creation.
// KEYS[1] = counter key
// ARGV[1] = delta
// ARGV[2] = ttl in milliseconds (0 = no expiry)
//
// Returns {value, pttl}; pttl is -1 when the key never expires.
var incrScript = goredis.NewScript(`
local value = redis.call("INCRBY", KEYS[1], tonumber(ARGV[1]))
local ttl = tonumber(ARGV[2])
local pttl = redis.call("PTTL", KEYS[1])
if ttl > 0 and pttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ttl)
    pttl = ttl
end
return {value, pttl}
`)

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reasongate/redis: get: %w", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("reasongate/redis: set: %w", err)
	}
	return nil
}

func (s *Store) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (reasongate.Counter, error) {
	vals, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, delta, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return reasongate.Counter{}, fmt.Errorf("reasongate/redis: incr: %w", err)
	}
	if len(vals) != 2 {
		return reasongate.Counter{}, fmt.Errorf("reasongate/redis: unexpected incr result: %v", vals)
	}

	c := reasongate.Counter{Value: vals[0]}
	if vals[1] > 0 {
		c.ExpiresAt = s.now().Add(time.Duration(vals[1]) * time.Millisecond)
	}
	return c, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var err error
	if ttl > 0 {
		err = s.client.PExpire(ctx, s.key(key), ttl).Err()
	} else {
		err = s.client.Persist(ctx, s.key(key)).Err()
	}
	if err != nil {
		return fmt.Errorf("reasongate/redis: expire: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("reasongate/redis: delete: %w", err)
	}
	return nil
}

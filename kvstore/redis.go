package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTLScript increments KEYS[1] and applies the window TTL only on the
// first hit. A key that somehow lost its TTL is repaired rather than left
// to grow forever.
const incrWithTTLScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
elseif redis.call("PTTL", KEYS[1]) == -1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var incrWithTTLLua = redis.NewScript(incrWithTTLScript)

// RedisStore is a Store backed by a Redis-compatible server.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. prefix namespaces every key; an empty
// prefix writes keys as given.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		redis:  client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", wrapRedisErr(err)
	}
	return v, nil
}

// Set stores value under key for ttl.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := validTTL(ttl); err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// IncrWithTTL runs INCR and the first-hit PEXPIRE as one script.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := validTTL(ttl); err != nil {
		return 0, err
	}
	count, err := incrWithTTLLua.Run(ctx, s.redis, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	return count, nil
}

// SetIfAbsent issues SET NX PX.
//
//	Performance: 1 Redis command.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validTTL(ttl); err != nil {
		return false, err
	}
	ok, err := s.redis.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, wrapRedisErr(err)
	}
	return ok, nil
}

// TTL issues PTTL. A key without expiry reports zero.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.redis.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	switch {
	case d == -2:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	}
	return d, nil
}

// Ping reports primary reachability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), wrapRedisErr(err)
	}
	return time.Since(start), nil
}

// wrapRedisErr keeps server replies (WRONGTYPE, script errors) distinct from
// connectivity failures so FallbackStore only degrades on the latter.
func wrapRedisErr(err error) error {
	var reply redis.Error
	if errors.As(err, &reply) {
		return fmt.Errorf("kvstore: redis reply: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

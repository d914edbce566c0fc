package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxCASAttempts = 3

// errNoWrite lets an update callback skip the write without failing.
var errNoWrite = errors.New("session: no write")

// RedisRepository stores encoded records under {<prefix>}:s:<sid> with a
// per-owner sorted set {<prefix>}:o:<owner> scored by LastSeenAt. The braces
// make the prefix a hash tag: every key of one repository maps to the same
// cluster slot, which the MULTI, WATCH and MGET calls below require.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRepository creates a RedisRepository. A nil now selects time.Now.
// A prefix that already carries a hash tag is used as is.
func NewRedisRepository(client redis.UniversalClient, prefix string, now func() time.Time) *RedisRepository {
	if now == nil {
		now = time.Now
	}
	return &RedisRepository{redis: client, prefix: hashTag(prefix), now: now}
}

func hashTag(prefix string) string {
	if prefix == "" {
		prefix = "sess"
	}
	if open := strings.IndexByte(prefix, '{'); open >= 0 && strings.IndexByte(prefix[open:], '}') > 1 {
		return prefix
	}
	return "{" + prefix + "}"
}

func (s *RedisRepository) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *RedisRepository) ownerKey(owner string) string {
	return s.prefix + ":o:" + owner
}

// Insert writes the record and its index entry in one MULTI.
//
//	Performance: 1 round trip (SET + ZADD + EXPIRE).
func (s *RedisRepository) Insert(ctx context.Context, r *Record) error {
	ttl := r.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", ErrInvalidInput)
	}
	data, err := Encode(r)
	if err != nil {
		return err
	}

	ownerKey := s.ownerKey(r.Owner)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(r.SessionID), data, ttl)
		pipe.ZAdd(ctx, ownerKey, redis.Z{Score: float64(r.LastSeenAt.UnixMilli()), Member: r.SessionID})
		pipe.Expire(ctx, ownerKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads a record. Records in an older schema are rewritten in the
// current one, keeping their TTL.
//
//	Performance: 1 GET, plus 1 SET on legacy records.
func (s *RedisRepository) Get(ctx context.Context, sessionID string) (*Record, error) {
	key := s.key(sessionID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	r, version, err := decode(data)
	if err != nil {
		return nil, err
	}
	r.SessionID = sessionID

	if version != CurrentSchemaVersion {
		s.migrate(ctx, key, r)
	}
	return r, nil
}

func (s *RedisRepository) migrate(ctx context.Context, key string, r *Record) {
	data, err := Encode(r)
	if err != nil {
		return
	}
	// XX: never resurrect a record that expired between GET and SET.
	s.redis.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true, Mode: "XX"})
}

// Touch updates LastSeenAt with optimistic WATCH/MULTI.
func (s *RedisRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return s.update(ctx, sessionID, func(r *Record) error {
		if r.Revoked {
			return ErrRevoked
		}
		r.LastSeenAt = at
		return nil
	})
}

// MarkRevoked flags the record revoked with optimistic WATCH/MULTI.
func (s *RedisRepository) MarkRevoked(ctx context.Context, sessionID string, at time.Time) error {
	return s.update(ctx, sessionID, func(r *Record) error {
		if r.Revoked {
			return errNoWrite
		}
		r.Revoked = true
		r.RevokedAt = at
		return nil
	})
}

func (s *RedisRepository) update(ctx context.Context, sessionID string, mutate func(*Record) error) error {
	key := s.key(sessionID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		r, _, err := decode(data)
		if err != nil {
			return err
		}
		r.SessionID = sessionID
		if err := mutate(r); err != nil {
			return err
		}
		next, err := Encode(r)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, next, redis.SetArgs{KeepTTL: true})
			pipe.ZAdd(ctx, s.ownerKey(r.Owner), redis.Z{Score: float64(r.LastSeenAt.UnixMilli()), Member: sessionID})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil, errors.Is(err, errNoWrite):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrRevoked), errors.Is(err, ErrUnsupportedVersion):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return fmt.Errorf("%w: concurrent update of session %s", ErrStoreUnavailable, sessionID)
}

// ListByOwner reads the owner index and the records it names. Index entries
// whose record has expired are pruned.
//
//	Performance: ZRANGE + MGET, plus ZREM when stale entries exist.
func (s *RedisRepository) ListByOwner(ctx context.Context, owner string) ([]*Record, error) {
	ownerKey := s.ownerKey(owner)
	ids, err := s.redis.ZRange(ctx, ownerKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*Record, 0, len(ids))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		r, err := Decode([]byte(raw))
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		r.SessionID = ids[i]
		out = append(out, r)
	}

	if len(stale) > 0 {
		// Pruning is best effort; the next listing retries it.
		s.redis.ZRem(ctx, ownerKey, stale...)
	}
	return out, nil
}

// Ping reports backend reachability and latency.
func (s *RedisRepository) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

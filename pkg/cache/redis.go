package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const backendRedis = "redis"

// tagSetTTL bounds how long a tag index set outlives its last Set. Stale
// members are harmless: invalidation deletes whatever keys remain.
const tagSetTTL = 24 * time.Hour

// RedisStore is a Store backed by Redis, for deployments that share cache,
// idempotency and rate-limit state across processes. Values round-trip
// through JSON, so typed values come back as generic JSON shapes.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed store. keyPrefix namespaces all keys;
// empty means "requestcore".
func NewRedisStore(rdb *redis.Client, keyPrefix string, logger zerolog.Logger) *RedisStore {
	if rdb == nil {
		panic("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = "requestcore"
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: keyPrefix,
		logger: logger,
	}
}

func (s *RedisStore) dataKey(key string) string {
	return s.prefix + ":k:" + key
}

func (s *RedisStore) tagKey(tag string) string {
	return s.prefix + ":tag:" + tag
}

// Get returns the entry for key, or ErrMiss if absent or expired.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.rdb.Get(ctx, s.dataKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.WithLabelValues(backendRedis).Inc()
			return nil, ErrMiss
		}
		cacheErrors.WithLabelValues(backendRedis, "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues(backendRedis, "get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expires the key physically, but check the logical clock too in
	// case the entry was written with a longer physical TTL (SWR grace).
	now := time.Now()
	if entry.Expired(now) {
		_ = s.Delete(ctx, key)
		cacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrMiss
	}

	entry.Accessed = now
	entry.Hits++

	// Best-effort access bookkeeping write-back; losing it never fails a read.
	if updated, err := json.Marshal(&entry); err == nil {
		if err := s.rdb.SetArgs(ctx, s.dataKey(key), updated, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("Cache access write-back failed")
		}
	}

	cacheHits.WithLabelValues(backendRedis).Inc()
	return &entry, nil
}

// Set stores the entry with its TTL and indexes its tags.
func (s *RedisStore) Set(ctx context.Context, key string, value any, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	entry := &Entry{
		Value:    value,
		TTL:      ttl,
		FreshFor: opts.FreshFor,
		Created:  now,
		Accessed: now,
		Tags:     append([]string(nil), opts.Tags...),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues(backendRedis, "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, s.dataKey(key), data, ttl)
	for _, tag := range opts.Tags {
		pipe.SAdd(ctx, s.tagKey(tag), key)
		pipe.Expire(ctx, s.tagKey(tag), tagSetTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues(backendRedis, "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the entry for key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.dataKey(key)).Err(); err != nil {
		cacheErrors.WithLabelValues(backendRedis, "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// InvalidateByTag removes every entry indexed under tag.
func (s *RedisStore) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	members, err := s.rdb.SMembers(ctx, s.tagKey(tag)).Result()
	if err != nil {
		cacheErrors.WithLabelValues(backendRedis, "invalidate").Inc()
		return 0, fmt.Errorf("redis smembers: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members)+1)
	for _, member := range members {
		keys = append(keys, s.dataKey(member))
	}
	keys = append(keys, s.tagKey(tag))

	removed, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		cacheErrors.WithLabelValues(backendRedis, "invalidate").Inc()
		return 0, fmt.Errorf("redis del: %w", err)
	}

	// The tag set itself is one of the deleted keys.
	count := int(removed) - 1
	if count < 0 {
		count = 0
	}
	cacheInvalidations.WithLabelValues(backendRedis, "tag").Add(float64(count))
	return count, nil
}

// InvalidateByPattern removes every entry whose key matches the glob
// pattern. Redis MATCH shares the *, ? and [] glob syntax.
func (s *RedisStore) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, s.dataKey(pattern), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			cacheErrors.WithLabelValues(backendRedis, "invalidate").Inc()
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		cacheErrors.WithLabelValues(backendRedis, "invalidate").Inc()
		return removed, fmt.Errorf("redis scan: %w", err)
	}

	cacheInvalidations.WithLabelValues(backendRedis, "pattern").Add(float64(removed))
	return removed, nil
}

// Len counts the entries currently stored under this store's prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := s.rdb.Scan(ctx, 0, s.dataKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return count, nil
}

// Flush removes every key under this store's prefix, tag indexes included.
func (s *RedisStore) Flush(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

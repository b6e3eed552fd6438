package idempotency

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts a request against a fixed window atomically.
// Requests over the limit are not counted.
// KEYS[1] = window key (e.g. "paylink:rate:203.0.113.7")
// ARGV[1] = limit
// ARGV[2] = window length in milliseconds
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current >= limit then
    return 0
end

current = redis.call("INCR", key)
if current == 1 then
    redis.call("PEXPIRE", key, window)
end
return 1
`)

// RedisStore implements Store on Redis, so every instance behind a load
// balancer shares one replay window and one rate limit per source.
type RedisStore struct {
	client redis.UniversalClient
	cfg    config
}

// NewRedisStore creates a guard backed by Redis.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	return &RedisStore{client: client, cfg: newConfig(opts)}
}

func (s *RedisStore) txKey(txID string) string {
	return s.cfg.keyPrefix + "tx:" + txID
}

func (s *RedisStore) rateKey(clientIP string) string {
	return s.cfg.keyPrefix + "rate:" + sourceKey(clientIP)
}

// IsDuplicate marks txID with SET NX, which is the atomic check-and-mark.
func (s *RedisStore) IsDuplicate(ctx context.Context, txID string) (bool, error) {
	marked, err := s.client.SetNX(ctx, s.txKey(txID), 1, s.cfg.replayTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis replay guard error: %w", err)
	}
	return !marked, nil
}

// Forget drops the mark for txID.
func (s *RedisStore) Forget(ctx context.Context, txID string) error {
	if err := s.client.Del(ctx, s.txKey(txID)).Err(); err != nil {
		return fmt.Errorf("redis replay guard error: %w", err)
	}
	return nil
}

// CheckRateLimit runs the fixed-window script for clientIP.
func (s *RedisStore) CheckRateLimit(ctx context.Context, clientIP string) (bool, error) {
	res, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.rateKey(clientIP)},
		s.cfg.rateLimit, s.cfg.rateWindow.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit error: %w", err)
	}
	return res == 1, nil
}

// Reset deletes every key under the store's prefix.
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.cfg.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis reset error: %w", err)
		}
	}
	return iter.Err()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

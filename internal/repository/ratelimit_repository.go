package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/redis"
)

const rateLimitKeyPrefix = "ratelimit:"

// Entries are hashes with attempts, first_attempt_at and locked_until, all
// times in unix milliseconds. Time is passed in from the caller so the Go
// clock stays authoritative.

var recordFailureScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local locked = tonumber(redis.call("HGET", KEYS[1], "locked_until") or "0")
local first = tonumber(redis.call("HGET", KEYS[1], "first_attempt_at") or "0")

if locked > 0 and now < locked then
  local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
  return {attempts, first, locked, 0}
end
if locked > 0 or (first > 0 and now - first >= window) then
  redis.call("DEL", KEYS[1])
  first = 0
  locked = 0
end

local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts == 1 then
  first = now
  redis.call("HSET", KEYS[1], "first_attempt_at", now)
end

if attempts >= max then
  locked = now + window
  redis.call("HSET", KEYS[1], "locked_until", locked)
  redis.call("PEXPIRE", KEYS[1], window)
  return {attempts, first, locked, 1}
end
redis.call("PEXPIRE", KEYS[1], first + window - now)
return {attempts, first, locked, 0}
`)

var lookupScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {}
end
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
local first = tonumber(redis.call("HGET", KEYS[1], "first_attempt_at") or "0")
local locked = tonumber(redis.call("HGET", KEYS[1], "locked_until") or "0")

if locked > 0 then
  if now >= locked then
    redis.call("DEL", KEYS[1])
    return {}
  end
elseif now - first >= window then
  redis.call("DEL", KEYS[1])
  return {}
end
return {attempts, first, locked}
`)

// RedisRateLimitRepository implements domain.RateLimitRepository using Redis
type RedisRateLimitRepository struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimitRepository creates a new lockout store
func NewRedisRateLimitRepository(redisClient *redis.Client, logger *slog.Logger) *RedisRateLimitRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimitRepository{redis: redisClient, logger: logger}
}

// Lookup returns the live entry for key or nil
func (r *RedisRateLimitRepository) Lookup(ctx context.Context, key domain.RateLimitKey, now time.Time, policy domain.LockoutPolicy) (*domain.RateLimitEntry, error) {
	res, err := r.redis.Run(ctx, lookupScript, []string{rateLimitKey(key)},
		now.UnixMilli(), policy.Duration.Milliseconds(),
	)
	if err != nil {
		return nil, domain.Unavailable("lookup rate limit", err)
	}
	return decodeEntry(key, res)
}

// RecordFailure counts one failure and locks the key at the threshold
func (r *RedisRateLimitRepository) RecordFailure(ctx context.Context, key domain.RateLimitKey, now time.Time, policy domain.LockoutPolicy) (*domain.RateLimitEntry, error) {
	res, err := r.redis.Run(ctx, recordFailureScript, []string{rateLimitKey(key)},
		now.UnixMilli(), policy.MaxAttempts, policy.Duration.Milliseconds(),
	)
	if err != nil {
		return nil, domain.Unavailable("record failure", err)
	}
	entry, err := decodeEntry(key, res)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("record failure: empty reply")
	}
	return entry, nil
}

// Delete clears the key
func (r *RedisRateLimitRepository) Delete(ctx context.Context, key domain.RateLimitKey) error {
	if err := r.redis.Delete(ctx, rateLimitKey(key)); err != nil {
		return domain.Unavailable("delete rate limit", err)
	}
	return nil
}

func decodeEntry(key domain.RateLimitKey, res interface{}) (*domain.RateLimitEntry, error) {
	vals, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script reply %T", res)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	if len(vals) != 3 && len(vals) != 4 {
		return nil, fmt.Errorf("unexpected script reply length %d", len(vals))
	}

	nums := make([]int64, len(vals))
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script value %T", v)
		}
		nums[i] = n
	}

	entry := &domain.RateLimitEntry{
		Key:            key,
		Attempts:       int(nums[0]),
		FirstAttemptAt: time.UnixMilli(nums[1]).UTC(),
	}
	if nums[2] > 0 {
		entry.LockedUntil = time.UnixMilli(nums[2]).UTC()
	}
	if len(nums) == 4 {
		entry.JustLocked = nums[3] == 1
	}
	return entry, nil
}

func rateLimitKey(key domain.RateLimitKey) string {
	return rateLimitKeyPrefix + key.String()
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims, counts and records in one round trip so that several
// processes sharing a key never admit more than limit calls per window.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2])}
end
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisWindow is the sliding window kept in a Redis sorted set, shared by
// every process that uses the same key.
type RedisWindow struct {
	client *redis.Client
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow connects to redisURL and verifies the connection.
func NewRedisWindow(redisURL, key string, limit int, opts ...Option) (*RedisWindow, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWindowWithClient(client, key, limit, opts...), nil
}

// NewRedisWindowWithClient builds a limiter on an existing client.
func NewRedisWindowWithClient(client *redis.Client, key string, limit int, opts ...Option) *RedisWindow {
	if limit < 1 {
		limit = DefaultLimit
	}
	if key == "" {
		key = "retroboard:ratelimit"
	}
	o := buildOptions(opts)
	return &RedisWindow{
		client: client,
		key:    key,
		limit:  limit,
		window: o.window,
		now:    o.now,
	}
}

func (w *RedisWindow) Allow(ctx context.Context) error {
	nowMs := w.now().UnixMilli()
	res, err := slidingWindow.Run(ctx, w.client, []string{w.key},
		nowMs, w.window.Milliseconds(), w.limit, fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("rate limit check: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return nil
	}
	retryAfter := time.Duration(res[1]+w.window.Milliseconds()-nowMs) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &ExceededError{Limit: w.limit, Window: w.window, RetryAfter: retryAfter}
}

// Close closes the Redis connection
func (w *RedisWindow) Close() error {
	return w.client.Close()
}

// Ping checks if Redis is reachable
func (w *RedisWindow) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

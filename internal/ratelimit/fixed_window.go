package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter limits requests per key in a fixed time window.
// Counters live in Redis so every bot replica shares the same quota.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	redisClient *redis.Client
	redisPrefix string
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "voicebridge:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: prefix,
	}, nil
}

// Close releases the Redis client.
func (l *FixedWindowLimiter) Close() error {
	if l == nil {
		return nil
	}
	return l.redisClient.Close()
}

// Allow reports whether key is within quota. When it is not, retryAfter is the
// time left in the current window. Redis failures fail closed.
func (l *FixedWindowLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	if l == nil {
		return false, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true, 0
	}
	nowMs := l.now().UTC().UnixMilli()
	windowSlot := nowMs / windowMs
	retryAfter = time.Duration((windowSlot+1)*windowMs-nowMs) * time.Millisecond

	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, windowSlot)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false, l.window
	}
	if res <= int64(l.limit) {
		return true, 0
	}
	return false, retryAfter
}

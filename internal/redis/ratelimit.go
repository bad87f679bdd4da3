package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests allowed
	Window time.Duration // Time window for the limit
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// slidingWindow trims the bucket to the window, admits n hits if they fit
// and reports {allowed, count, reset_ms}. reset_ms is when the oldest
// retained hit leaves the window.
//
// KEYS[1] bucket
// ARGV    now_ms, window_ms, limit, n, member prefix
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local n = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])

local allowed = 0
if count + n <= limit then
  for i = 1, n do
    redis.call('ZADD', KEYS[1], now, ARGV[5] .. ':' .. i)
  end
  redis.call('PEXPIRE', KEYS[1], window)
  count = count + n
  allowed = 1
end

local reset = now + window
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RateLimiter is a sliding-window limiter shared by every gateway instance.
// It guards the inbound webhook routes, which are reachable without a
// session.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow checks if a request is allowed under the rate limit.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN admits n hits at once, or none of them.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()
	bucket := keyPrefix + "ratelimit:" + key

	raw, err := slidingWindow.Run(ctx, r.client.rdb, []string{bucket},
		now.UnixMilli(),
		r.config.Window.Milliseconds(),
		r.config.Limit,
		n,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, r.client.unavailable("ratelimit", err)
	}
	if len(raw) != 3 {
		return nil, r.client.unavailable("ratelimit", fmt.Errorf("unexpected script reply %v", raw))
	}

	res := &RateLimitResult{
		Allowed:   raw[0] == 1,
		Limit:     r.config.Limit,
		Remaining: max(0, r.config.Limit-int(raw[1])),
		ResetAt:   time.UnixMilli(raw[2]),
	}
	if !res.Allowed {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("current", raw[1]),
			zap.Int("limit", r.config.Limit),
		)
	}
	return res, nil
}

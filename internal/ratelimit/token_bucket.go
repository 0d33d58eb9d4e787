package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Take call.
type Decision struct {
	Allowed   bool
	Remaining float64
	// RetryAfter is how long until one token is available again; zero when allowed.
	RetryAfter time.Duration
}

// TokenBucket throttles alignment submissions per client key. Buckets live in
// Redis so every API replica shares one budget.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket constructs a bucket with the provided capacity/refill. A zero
// ttl derives one from the time a drained bucket needs to refill.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	if ttl == 0 && refillPerSecond > 0 {
		ttl = time.Duration(float64(capacity)/refillPerSecond*float64(time.Second)) + time.Minute
	}
	return &TokenBucket{
		client:   client,
		prefix:   "ratelimit:submit:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Take consumes a single token for key if one is available.
func (b *TokenBucket) Take(ctx context.Context, key string) (Decision, error) {
	if b.capacity <= 0 {
		return Decision{Allowed: true, Remaining: math.Inf(1)}, nil
	}
	now := b.now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %T", res)
	}
	allowed, _ := arr[0].(int64)
	// Lua numbers come back as integers, so remaining is sent as a string to keep fractions.
	var remaining float64
	switch v := arr[1].(type) {
	case string:
		_, _ = fmt.Sscan(v, &remaining)
	case int64:
		remaining = float64(v)
	}

	d := Decision{Allowed: allowed == 1, Remaining: remaining}
	if !d.Allowed && b.refill > 0 {
		d.RetryAfter = time.Duration((1 - remaining) / b.refill * float64(time.Second))
	}
	return d, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', tostring(now))
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)

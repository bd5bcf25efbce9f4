package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TakeResult is the outcome of one token-bucket consume.
type TakeResult struct {
	Allowed           bool
	TokensRemaining   float64
	RetryAfterSeconds float64
}

// BucketStore holds per-key token-bucket state. Take must be atomic: refill,
// test and decrement happen as one operation, never as a read followed by a
// separate write.
type BucketStore interface {
	Take(ctx context.Context, bucketKey string, capacity, refillPerSec float64, now time.Time) (TakeResult, error)
}

// RateLimiter enforces per-key token-bucket rate limiting. Capacity is the
// burst limit; refill runs at requestsPerMinute/60 tokens per second.
type RateLimiter struct {
	store        BucketStore
	capacity     float64
	refillPerSec float64
	now          func() time.Time
}

// NewRateLimiter creates a rate limiter backed by Redis.
func NewRateLimiter(redisURL string, requestsPerMinute, burstLimit int) (*RateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRateLimiterWithStore(NewRedisBucketStore(client), requestsPerMinute, burstLimit), nil
}

// NewRateLimiterWithStore creates a rate limiter on an existing bucket store.
func NewRateLimiterWithStore(store BucketStore, requestsPerMinute, burstLimit int) *RateLimiter {
	return &RateLimiter{
		store:        store,
		capacity:     float64(burstLimit),
		refillPerSec: float64(requestsPerMinute) / 60.0,
		now:          time.Now,
	}
}

// Consume takes one token from the key's bucket. When the bucket is empty it
// reports how long until one token has accrued, so callers can schedule a
// retry precisely.
func (rl *RateLimiter) Consume(ctx context.Context, apiKeyID string) (TakeResult, error) {
	bucketKey := fmt.Sprintf("rate_limit:bucket:%s", apiKeyID)

	res, err := rl.store.Take(ctx, bucketKey, rl.capacity, rl.refillPerSec, rl.now())
	if err != nil {
		return TakeResult{}, fmt.Errorf("failed to consume rate limit token: %w", err)
	}

	return res, nil
}

// Close releases the underlying store if it holds a connection.
func (rl *RateLimiter) Close() error {
	if c, ok := rl.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// GetClient exposes the Redis client for health checks and cache reuse.
// Returns nil when the limiter runs on a non-Redis store.
func (rl *RateLimiter) GetClient() *redis.Client {
	if s, ok := rl.store.(*RedisBucketStore); ok {
		return s.client
	}
	return nil
}

// takeLua refills, tests and decrements the bucket in one Redis-side step.
// State survives at least long enough for a full refill, then expires.
var takeLua = redis.NewScript(`
local cap = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = cap
  last = now
end

local elapsed = now - last
if elapsed > 0 then
  tokens = math.min(cap, tokens + elapsed * rate)
end

-- Epsilon absorbs float error in elapsed*rate (6s at 10/min must be 1 token).
local allowed = 0
if tokens + 1e-9 >= 1 then
  tokens = tokens - 1
  allowed = 1
  if tokens < 0 then tokens = 0 end
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', KEYS[1], math.ceil(cap / rate) + 60)

return {allowed, tostring(tokens)}
`)

// RedisBucketStore keeps bucket state in Redis so every gateway instance
// draws from the same bucket.
type RedisBucketStore struct {
	client *redis.Client
}

func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

func (s *RedisBucketStore) Take(ctx context.Context, bucketKey string, capacity, refillPerSec float64, now time.Time) (TakeResult, error) {
	nowSecs := float64(now.UnixMicro()) / 1e6

	raw, err := takeLua.Run(ctx, s.client, []string{bucketKey},
		strconv.FormatFloat(capacity, 'f', -1, 64),
		strconv.FormatFloat(refillPerSec, 'f', -1, 64),
		strconv.FormatFloat(nowSecs, 'f', 6, 64),
	).Slice()
	if err != nil {
		return TakeResult{}, err
	}
	if len(raw) != 2 {
		return TakeResult{}, fmt.Errorf("unexpected bucket script reply: %v", raw)
	}

	allowed, ok := raw[0].(int64)
	if !ok {
		return TakeResult{}, fmt.Errorf("unexpected bucket script reply: %v", raw)
	}
	tokensStr, ok := raw[1].(string)
	if !ok {
		return TakeResult{}, fmt.Errorf("unexpected bucket script reply: %v", raw)
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return TakeResult{}, fmt.Errorf("unexpected bucket token count %q: %w", tokensStr, err)
	}

	return bucketResult(allowed == 1, tokens, refillPerSec), nil
}

func (s *RedisBucketStore) Close() error {
	return s.client.Close()
}

// MemoryBucketStore is a process-local BucketStore guarded by a mutex. It
// backs tests and single-instance deployments; fleet deployments need the
// Redis store so all instances share one bucket.
type MemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{buckets: make(map[string]*memoryBucket)}
}

func (s *MemoryBucketStore) Take(_ context.Context, bucketKey string, capacity, refillPerSec float64, now time.Time) (TakeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketKey]
	if !ok {
		b = &memoryBucket{tokens: capacity, lastRefill: now}
		s.buckets[bucketKey] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*refillPerSec)
	}
	b.lastRefill = now

	allowed := b.tokens+bucketEpsilon >= 1
	if allowed {
		b.tokens--
		if b.tokens < 0 {
			b.tokens = 0
		}
	}

	return bucketResult(allowed, b.tokens, refillPerSec), nil
}

// bucketEpsilon absorbs float error in elapsed*rate so a bucket that has
// mathematically accrued a whole token admits the request.
const bucketEpsilon = 1e-9

func bucketResult(allowed bool, tokens, refillPerSec float64) TakeResult {
	res := TakeResult{Allowed: allowed, TokensRemaining: tokens}
	if !allowed && refillPerSec > 0 {
		if wait := (1 - tokens) / refillPerSec; wait > 0 {
			res.RetryAfterSeconds = wait
		}
	}
	return res
}

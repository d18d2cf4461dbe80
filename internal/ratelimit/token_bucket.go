package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket is a Redis-backed token bucket with one bucket per actor, so a
// single busy client cannot exhaust the allowance of everyone else.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

const keyPrefix = "rl:actor:"

func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Key returns the bucket key for an actor. Requests without an actor share
// one bucket.
func (b *TokenBucket) Key(actor string) string {
	if actor == "" {
		actor = "anonymous"
	}
	return keyPrefix + actor
}

// Allow takes one token from the actor's bucket. It returns whether the
// request may proceed and the tokens left afterwards.
func (b *TokenBucket) Allow(ctx context.Context, actor string) (bool, float64, error) {
	reply, err := takeScript.Run(ctx, b.client, []string{b.Key(actor)},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket %s: %w", actor, err)
	}
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("token bucket %s: unexpected reply %v", actor, reply)
	}
	granted, ok := reply[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("token bucket %s: unexpected grant %T", actor, reply[0])
	}
	left, ok := reply[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("token bucket %s: unexpected balance %T", actor, reply[1])
	}
	tokens, err := strconv.ParseFloat(left, 64)
	if err != nil {
		return false, 0, fmt.Errorf("token bucket %s: %w", actor, err)
	}
	return granted == 1, tokens, nil
}

// The balance is returned as a string: Lua numbers are truncated to integers
// on the way back to the client.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate / 1000)

local granted = 0
if tokens >= 1 then
  tokens = tokens - 1
  granted = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {granted, tostring(tokens)}
`)

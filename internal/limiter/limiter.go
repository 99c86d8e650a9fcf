// Package limiter throttles customer messages with counters kept in Redis,
// so every backend instance sees the same budget per sender.
package limiter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Algorithm selects how a Policy spends and restores a sender's budget.
type Algorithm string

const (
	// FixedWindow allows Limit messages per Window, reset when the window expires.
	FixedWindow Algorithm = "fixed"
	// TokenBucket allows bursts of Limit messages and refills Limit per Window.
	TokenBucket Algorithm = "token"
)

// ParseAlgorithm maps a config value to an Algorithm, FixedWindow by default.
func ParseAlgorithm(name string) Algorithm {
	if Algorithm(name) == TokenBucket {
		return TokenBucket
	}
	return FixedWindow
}

const messagePrefix = "ratelimit:chat:msg:"

// KEYS[1] counter, ARGV[1] limit, ARGV[2] window in ms.
var fixedWindow = redis.NewScript(`
local sent = redis.call("INCR", KEYS[1])
if sent == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if sent > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

// KEYS[1] bucket hash, ARGV[1] capacity, ARGV[2] window in ms, ARGV[3] now in ms.
// The bucket expires once it would be full again anyway.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - at) * capacity / window)
if tokens < 1 then
	return 0
end
redis.call("HSET", KEYS[1], "tokens", tostring(tokens - 1), "at", now)
redis.call("PEXPIRE", KEYS[1], window)
return 1
`)

// Policy is the per-sender message budget.
type Policy struct {
	rdb       redis.Scripter
	algorithm Algorithm
	limit     int
	window    time.Duration
	now       func() time.Time
}

// NewMessagePolicy limits how many messages one sender may post per window.
// A non-positive limit or window disables it.
func NewMessagePolicy(rdb redis.Scripter, algorithm Algorithm, limit int, window time.Duration) *Policy {
	return &Policy{rdb: rdb, algorithm: algorithm, limit: limit, window: window, now: time.Now}
}

// Allow spends one message from the sender's budget and reports whether
// there was one to spend.
func (p *Policy) Allow(ctx context.Context, senderID string) (bool, error) {
	if p.limit <= 0 || p.window <= 0 {
		return true, nil
	}
	window := p.window.Milliseconds()
	if window < 1 {
		window = 1
	}

	var cmd *redis.Cmd
	switch p.algorithm {
	case TokenBucket:
		key := messagePrefix + "bucket:" + senderID
		cmd = tokenBucket.Run(ctx, p.rdb, []string{key}, p.limit, window, p.now().UnixMilli())
	default:
		key := messagePrefix + senderID + ":" + strconv.FormatInt(p.now().UnixMilli()/window, 10)
		cmd = fixedWindow.Run(ctx, p.rdb, []string{key}, p.limit, window)
	}
	allowed, err := cmd.Int()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}

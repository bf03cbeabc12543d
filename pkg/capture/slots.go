package capture

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SlotLimiter bounds concurrent sessions across engine instances sharing
// one browser farm. Local ceilings are enforced by the Manager itself;
// this is the distributed layer on top.
type SlotLimiter interface {
	Acquire(ctx context.Context, sessionKey string) (bool, error)
	Release(ctx context.Context, sessionKey string) error
}

// slotAcquireScript claims a slot atomically: add the member only while
// the set is under capacity.
// KEYS[1] = slot set key
// ARGV[1] = capacity
// ARGV[2] = session key
// ARGV[3] = slot TTL seconds (self-clean against crashed holders)
var slotAcquireScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local member = ARGV[2]
local ttl = tonumber(ARGV[3])

if redis.call("SISMEMBER", key, member) == 1 then
    return 1
end
if redis.call("SCARD", key) >= capacity then
    return 0
end
redis.call("SADD", key, member)
redis.call("EXPIRE", key, ttl)
return 1
`)

// RedisSlotLimiter implements SlotLimiter on a shared Redis set.
type RedisSlotLimiter struct {
	client   *redis.Client
	key      string
	capacity int
	ttlSec   int
}

// NewRedisSlotLimiter connects to Redis and bounds the named slot set.
func NewRedisSlotLimiter(addr, password string, db int, slotKey string, capacity int) *RedisSlotLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSlotLimiter{
		client:   rdb,
		key:      "autoflow:slots:" + slotKey,
		capacity: capacity,
		ttlSec:   3600,
	}
}

// Acquire claims a slot for the session. Re-acquiring an already held
// slot succeeds without consuming capacity.
func (l *RedisSlotLimiter) Acquire(ctx context.Context, sessionKey string) (bool, error) {
	res, err := slotAcquireScript.Run(ctx, l.client, []string{l.key}, l.capacity, sessionKey, l.ttlSec).Result()
	if err != nil {
		return false, fmt.Errorf("redis slot limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid response from slot script")
	}
	return allowed == 1, nil
}

// Release frees the session's slot.
func (l *RedisSlotLimiter) Release(ctx context.Context, sessionKey string) error {
	if err := l.client.SRem(ctx, l.key, sessionKey).Err(); err != nil {
		return fmt.Errorf("redis slot release: %w", err)
	}
	return nil
}

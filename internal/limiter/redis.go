package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raakeshmj/imagegate/internal/reliability"
)

// fixedWindowScript counts one request atomically.
// KEYS[1] = rate limit key
// ARGV[1] = max requests per window
// ARGV[2] = window in milliseconds
// Returns: [count after increment, remaining window in milliseconds]
//
// The key's TTL is set only when the key is created, so the window stays
// fixed rather than sliding with each request.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	ttl = tonumber(ARGV[2])
end
return {count, ttl}
`

// RedisStore shares one window table across replicas. A circuit breaker
// guards the round trip so a dead Redis costs one failed call per probe
// interval instead of a timeout per request; the Limiter fails open on
// the error either way.
type RedisStore struct {
	client  *redis.Client
	breaker *reliability.Breaker
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		breaker: reliability.NewBreaker(3, 10*time.Second),
	}
}

func (s *RedisStore) Check(ctx context.Context, identifier string, cfg Config) (Result, error) {
	var res Result
	err := s.breaker.Execute(func() error {
		cmd := s.client.Eval(ctx, fixedWindowScript, []string{"ratelimit:" + identifier},
			cfg.MaxRequests, cfg.Window.Milliseconds())
		vals, err := cmd.Result()
		if err != nil {
			return err
		}

		slice, ok := vals.([]interface{})
		if !ok || len(slice) != 2 {
			return fmt.Errorf("unexpected script reply %T", vals)
		}
		count, ok1 := slice[0].(int64)
		ttlMs, ok2 := slice[1].(int64)
		if !ok1 || !ok2 {
			return fmt.Errorf("unexpected script reply types %T %T", slice[0], slice[1])
		}

		remaining := cfg.MaxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		res = Result{
			Allowed:   int(count) <= cfg.MaxRequests,
			Remaining: remaining,
			ResetTime: time.Now().Add(time.Duration(ttlMs) * time.Millisecond),
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"
)

// Sliding-window counter kept in one hash per key. The script applies the same
// advance/weigh/increment steps as the in-memory counter, atomically.
//
// KEYS[1]  counter key
// ARGV[1]  window in ms
// ARGV[2]  limit
// ARGV[3]  now in ms, or 0 to use the server clock
//
// Returns {admitted, current, previous, start, now}; counts are post-update.
var slidingCounterScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
if now == 0 then
	local t = redis.call('TIME')
	now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
end

local h = redis.call('HMGET', key, 'start', 'cur', 'prev', 'win')
local start, cur, prev = now, 0, 0
if h[1] and tonumber(h[4]) == window then
	start = tonumber(h[1])
	cur = tonumber(h[2])
	prev = tonumber(h[3])
end

local elapsed = now - start
if elapsed < 0 then
	elapsed = 0
end
if elapsed >= window then
	local n = math.floor(elapsed / window)
	if n == 1 then
		prev = cur
	else
		prev = 0
	end
	cur = 0
	start = start + n * window
	elapsed = elapsed - n * window
end

local weighted = prev * (1 - elapsed / window) + cur
if weighted + 1 > limit + 1e-9 then
	return {0, cur, prev, start, now}
end

cur = cur + 1
redis.call('HSET', key, 'start', start, 'cur', cur, 'prev', prev, 'win', window)
redis.call('PEXPIRE', key, window * 2)
return {1, cur, prev, start, now}
`)

// RedisWindow shares sliding-window counters across gateway instances
type RedisWindow struct {
	redis  *storage.RedisClient
	clock  clock.PassiveClock
	prefix string
}

// NewRedisWindow uses the Redis server clock when clk is nil, so that every
// instance agrees on window boundaries.
func NewRedisWindow(redis *storage.RedisClient, clk clock.PassiveClock) *RedisWindow {
	return &RedisWindow{
		redis:  redis,
		clock:  clk,
		prefix: "ratelimit:window:",
	}
}

func (r *RedisWindow) TryAdmit(ctx context.Context, key string, window time.Duration, limit int) (WindowResult, error) {
	if window <= 0 {
		return WindowResult{}, ErrInvalidWindow
	}
	if limit <= 0 {
		return rejectEmpty(r.now(), window, limit), nil
	}

	var nowArg int64
	if r.clock != nil {
		nowArg = r.clock.Now().UnixMilli()
	}

	res, err := slidingCounterScript.Run(ctx, r.redis.Client(),
		[]string{r.prefix + key}, window.Milliseconds(), limit, nowArg).Int64Slice()
	if err != nil {
		return WindowResult{}, storage.Unavailable("redis window", err)
	}
	if len(res) != 5 {
		return WindowResult{}, storage.Unavailable("redis window", fmt.Errorf("unexpected script reply of %d values", len(res)))
	}

	admitted := res[0] == 1
	st := windowState{
		start:    time.UnixMilli(res[3]),
		current:  int(res[1]),
		previous: int(res[2]),
		window:   window,
	}
	elapsed := time.UnixMilli(res[4]).Sub(st.start)
	resetAt := st.start.Add(window)

	if !admitted {
		return WindowResult{
			Admitted:   false,
			Limit:      limit,
			RetryAfter: retryAfter(st, elapsed, limit),
			ResetAt:    resetAt,
		}, nil
	}

	return WindowResult{
		Admitted:  true,
		Limit:     limit,
		Remaining: remaining(limit, st.weighted(elapsed)),
		ResetAt:   resetAt,
	}, nil
}

func (r *RedisWindow) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return time.Now()
}

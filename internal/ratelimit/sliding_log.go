package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"
)

// Exact sliding log: one sorted-set member per admitted request, scored by
// its timestamp in ms. Trimming, counting and insertion run in one script.
//
// KEYS[1]  log key
// ARGV[1]  window in ms
// ARGV[2]  limit
// ARGV[3]  now in ms, or 0 to use the server clock
// ARGV[4]  unique member suffix
//
// Returns {admitted, count, pivot, oldest, now}. On rejection pivot is the
// score of the entry whose expiry frees the next slot.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
if now == 0 then
	local t = redis.call('TIME')
	now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
end

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
	redis.call('ZADD', key, now, now .. ':' .. ARGV[4])
	redis.call('PEXPIRE', key, window)
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {1, count + 1, 0, tonumber(oldest[2]), now}
end

local pivot = redis.call('ZRANGE', key, count - limit, count - limit, 'WITHSCORES')
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, count, tonumber(pivot[2]), tonumber(oldest[2]), now}
`)

// SlidingLogWindow never admits more than limit requests in any interval of
// one window length. It costs one sorted-set entry per admitted request.
type SlidingLogWindow struct {
	redis  *storage.RedisClient
	clock  clock.PassiveClock
	prefix string
}

func NewSlidingLogWindow(redis *storage.RedisClient, clk clock.PassiveClock) *SlidingLogWindow {
	return &SlidingLogWindow{
		redis:  redis,
		clock:  clk,
		prefix: "ratelimit:log:",
	}
}

func (s *SlidingLogWindow) TryAdmit(ctx context.Context, key string, window time.Duration, limit int) (WindowResult, error) {
	if window <= 0 {
		return WindowResult{}, ErrInvalidWindow
	}
	if limit <= 0 {
		now := time.Now()
		if s.clock != nil {
			now = s.clock.Now()
		}
		return rejectEmpty(now, window, limit), nil
	}

	var nowArg int64
	if s.clock != nil {
		nowArg = s.clock.Now().UnixMilli()
	}

	res, err := slidingLogScript.Run(ctx, s.redis.Client(),
		[]string{s.prefix + key}, window.Milliseconds(), limit, nowArg, uuid.NewString()).Int64Slice()
	if err != nil {
		return WindowResult{}, storage.Unavailable("redis sliding log", err)
	}
	if len(res) != 5 {
		return WindowResult{}, storage.Unavailable("redis sliding log", fmt.Errorf("unexpected script reply of %d values", len(res)))
	}

	count := int(res[1])
	resetAt := time.UnixMilli(res[3]).Add(window)

	if res[0] != 1 {
		retry := time.UnixMilli(res[2]).Add(window).Sub(time.UnixMilli(res[4]))
		if retry < time.Millisecond {
			retry = time.Millisecond
		}
		return WindowResult{
			Admitted:   false,
			Limit:      limit,
			RetryAfter: retry,
			ResetAt:    resetAt,
		}, nil
	}

	left := limit - count
	if left < 0 {
		left = 0
	}
	return WindowResult{
		Admitted:  true,
		Limit:     limit,
		Remaining: left,
		ResetAt:   resetAt,
	}, nil
}

package ratelimit

import (
	"fmt"

	"github.com/aman-churiwal/tier-gate/internal/storage"
	"k8s.io/utils/clock"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	AlgorithmSlidingCounter = "sliding_counter"
	AlgorithmSlidingLog     = "sliding_log"
)

// NewWindowCounter builds the counter selected by configuration. The redis
// counters use the Redis server clock; clk only drives the memory one.
func NewWindowCounter(backend, algorithm string, redis *storage.RedisClient, clk clock.PassiveClock) (WindowCounter, error) {
	switch backend {
	case BackendMemory, "":
		if algorithm == AlgorithmSlidingLog {
			return nil, fmt.Errorf("algorithm %s requires the redis backend", algorithm)
		}
		return NewMemoryWindow(clk), nil
	case BackendRedis:
		if redis == nil {
			return nil, fmt.Errorf("redis backend selected but no redis client configured")
		}
		switch algorithm {
		case AlgorithmSlidingCounter, "":
			return NewRedisWindow(redis, nil), nil
		case AlgorithmSlidingLog:
			return NewSlidingLogWindow(redis, nil), nil
		default:
			return nil, fmt.Errorf("unknown window algorithm %q", algorithm)
		}
	default:
		return nil, fmt.Errorf("unknown window backend %q", backend)
	}
}

package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/circuitbreaker"
	"github.com/aman-churiwal/tier-gate/internal/metrics"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"go.uber.org/zap"
)

// GuardedWindow bounds every store call with a timeout and a circuit breaker
// and resolves store failures with the configured policy.
type GuardedWindow struct {
	inner   WindowCounter
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	policy  storage.FailurePolicy
	logger  *zap.Logger
}

type GuardConfig struct {
	Timeout time.Duration
	Policy  storage.FailurePolicy
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *zap.Logger
}

func NewGuardedWindow(inner WindowCounter, cfg GuardConfig) *GuardedWindow {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &GuardedWindow{
		inner:   inner,
		breaker: cfg.Breaker,
		timeout: cfg.Timeout,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
	}
}

func (g *GuardedWindow) TryAdmit(ctx context.Context, key string, window time.Duration, limit int) (WindowResult, error) {
	if err := ctx.Err(); err != nil {
		return WindowResult{}, err
	}

	// A client disconnect must not abandon a half-applied increment
	callCtx := context.WithoutCancel(ctx)
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
		defer cancel()
	}

	var result WindowResult
	call := func(ctx context.Context) error {
		var err error
		result, err = g.inner.TryAdmit(ctx, key, window, limit)
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(callCtx, call)
	} else {
		err = call(callCtx)
	}

	if err == nil {
		return result, nil
	}
	if errors.Is(err, ErrInvalidWindow) {
		return WindowResult{}, err
	}
	if !errors.Is(err, storage.ErrUnavailable) {
		err = storage.Unavailable("window", err)
	}

	metrics.StoreFailures.WithLabelValues("window", g.policy.String()).Inc()
	g.logger.Error("window store unavailable",
		zap.String("key", key),
		zap.String("policy", g.policy.String()),
		zap.Error(err),
	)

	if g.policy == storage.FailClosed {
		return WindowResult{}, err
	}

	return WindowResult{
		Admitted:   true,
		Limit:      limit,
		Remaining:  limit,
		FailedOpen: true,
	}, nil
}

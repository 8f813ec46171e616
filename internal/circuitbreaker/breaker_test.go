package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var errBoom = errors.New("boom")

func newTestBreaker(clk *clocktesting.FakeClock) *CircuitBreaker {
	return New(Config{
		Name:            "test",
		MaxFailures:     3,
		Timeout:         10 * time.Second,
		HalfOpenSuccess: 2,
		Clock:           clk,
	})
}

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	cb := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(clocktesting.NewFakeClock(time.Now()))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	cb := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	clk.Step(11 * time.Second)

	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	cb := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clk.Step(11 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	cb := New(Config{Name: "probe", MaxFailures: 1, Timeout: time.Second, HalfOpenSuccess: 1, Clock: clk})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Step(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := New(Config{Name: "cancel", MaxFailures: 1, Clock: clocktesting.NewFakeClock(time.Now())})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresMarkedErrors(t *testing.T) {
	cb := newTestBreaker(clocktesting.NewFakeClock(time.Now()))

	require.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	require.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error {
			return Ignore(errBoom)
		})
		require.Equal(t, errBoom, err, "the marker is stripped")
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Metrics().FailureCount, "ignored errors do not reset the count either")

	require.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cb := New(Config{Name: "reset", MaxFailures: 1, Clock: clocktesting.NewFakeClock(time.Now())})

	_ = cb.Call(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(func() error { return nil }))
}

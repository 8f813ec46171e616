package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/metrics"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

var (
	// ErrCircuitOpen is returned when circuit is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type ignoredError struct{ err error }

func (e ignoredError) Error() string { return e.err.Error() }
func (e ignoredError) Unwrap() error { return e.err }

// Ignore marks err as saying nothing about the dependency's health. Execute
// neither counts it as a failure nor as a success, and returns err unmarked.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return ignoredError{err: err}
}

// Implements the circuit breaker pattern. Guards the upstream proxy and the
// window and quota stores.
type CircuitBreaker struct {
	mu              sync.Mutex
	name            string
	state           State
	failureCount    int
	successCount    int
	probes          int
	lastFailureTime time.Time
	lastStateChange time.Time

	maxFailures     int           // Number of failures before opening
	timeout         time.Duration // How long to stay open
	halfOpenSuccess int           // Successes needed in half-open to close

	clock  clock.PassiveClock
	logger *zap.Logger
}

type Config struct {
	Name            string
	MaxFailures     int           // Default: 5
	Timeout         time.Duration // Default: 30 seconds
	HalfOpenSuccess int           // Default: 1
	Clock           clock.PassiveClock
	Logger          *zap.Logger
}

func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccess <= 0 {
		cfg.HalfOpenSuccess = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	cb := &CircuitBreaker{
		name:            cfg.Name,
		state:           StateClosed,
		maxFailures:     cfg.MaxFailures,
		timeout:         cfg.Timeout,
		halfOpenSuccess: cfg.HalfOpenSuccess,
		clock:           cfg.Clock,
		logger:          cfg.Logger.With(zap.String("breaker", cfg.Name)),
		lastStateChange: cfg.Clock.Now(),
	}
	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(StateClosed))
	return cb
}

// Execute runs fn with circuit breaker protection. Cancellation is not counted
// against the protected dependency; deadlines are.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	var ignored ignoredError
	switch {
	case err == nil:
		cb.onSuccess()
	case errors.As(err, &ignored):
		err = ignored.err
	case errors.Is(err, context.Canceled):
		// caller gave up; says nothing about the dependency
	default:
		cb.onFailure()
	}

	return err
}

// Call is Execute without a context
func (cb *CircuitBreaker) Call(fn func() error) error {
	return cb.Execute(context.Background(), func(context.Context) error {
		return fn()
	})
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Since(cb.lastFailureTime) <= cb.timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.successCount = 0
		cb.probes = 0
	case StateHalfOpen:
		// Only as many trial calls in flight as needed to close again
		if cb.probes >= cb.halfOpenSuccess {
			return ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
	}
	return nil
}

// Handles a failed request
func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = cb.clock.Now()

	if cb.state == StateHalfOpen {
		// In half-open, any failure opens the circuit
		cb.setState(StateOpen)
		cb.successCount = 0
	} else if cb.state == StateClosed && cb.failureCount >= cb.maxFailures {
		cb.setState(StateOpen)
	}
}

// Handles a successful request
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenSuccess {
			cb.setState(StateClosed)
			cb.failureCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// Changes the circuit breaker state
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	cb.logger.Info("circuit breaker state change",
		zap.Stringer("from", cb.state),
		zap.Stringer("to", newState),
		zap.Int("failures", cb.failureCount),
	)

	cb.state = newState
	cb.lastStateChange = cb.clock.Now()
	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(newState))
}

// Returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.probes = 0
}

// Returns current circuit breaker metrics
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Metrics{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// Holds circuit breaker metrics
type Metrics struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
}

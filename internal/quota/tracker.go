package quota

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/circuitbreaker"
	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/metrics"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

type ConsumeResult struct {
	Allowed bool
	Limit   int
	// Calls left today after this one
	Remaining int
	// Set once per day, on the call that crosses the warning threshold
	Warning bool
	Exempt  bool
	// Set on the call that performed today's reset
	Reset bool
	// Next daily reset
	ResetAt time.Time
	// Set when the store was unavailable and the failure policy admitted the call
	FailedOpen bool
}

// pinger is implemented by stores that can report their own health apart
// from any one user's row
type pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Store            Store
	Clock            clock.PassiveClock
	Location         *time.Location
	DefaultThreshold int // percent, default 80
	Timeout          time.Duration
	Policy           storage.FailurePolicy
	Breaker          *circuitbreaker.CircuitBreaker
	Logger           *zap.Logger
}

// Tracker enforces daily API quotas on top of a Store
type Tracker struct {
	store     Store
	clock     clock.PassiveClock
	loc       *time.Location
	threshold int
	timeout   time.Duration
	policy    storage.FailurePolicy
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultThreshold <= 0 || cfg.DefaultThreshold > 100 {
		cfg.DefaultThreshold = 80
	}

	return &Tracker{
		store:     cfg.Store,
		clock:     cfg.Clock,
		loc:       cfg.Location,
		threshold: cfg.DefaultThreshold,
		timeout:   cfg.Timeout,
		policy:    cfg.Policy,
		breaker:   cfg.Breaker,
		logger:    logging.OrNop(cfg.Logger).Named("quota"),
	}
}

// Consume charges one API call against the user's daily quota. A call that
// cannot get at the user's state because other calls for the same user hold it
// returns an error wrapping storage.ErrContended; it is neither counted nor
// admitted, and does not count against the store's circuit breaker.
func (t *Tracker) Consume(ctx context.Context, userID uuid.UUID, tier models.SubscriptionTier) (ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return ConsumeResult{}, err
	}

	now := t.clock.Now()
	var tr transition

	st, err := t.update(ctx, userID, func(current models.UserQuotaState, exists bool) (models.UserQuotaState, bool) {
		if !exists {
			current = newState(userID, tier, now, t.loc, t.threshold)
		}
		next, write, step := consume(current, tier, now, t.loc, t.threshold)
		tr = step
		return next, write || !exists
	})
	if errors.Is(err, storage.ErrContended) {
		metrics.KeyContention.WithLabelValues("quota").Inc()
		t.logger.Warn("quota row contended",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return ConsumeResult{}, err
	}
	if err != nil {
		return t.onStoreFailure(userID, tier, now, err)
	}

	if tr.reset {
		metrics.QuotaResets.Inc()
		t.logger.Debug("daily quota reset", zap.String("user_id", userID.String()))
	}
	if tr.warning {
		metrics.QuotaWarnings.Inc()
	}

	res := ConsumeResult{
		Allowed: tr.allowed,
		Limit:   st.MaxDailyAPICalls,
		Warning: tr.warning,
		Exempt:  tr.exempt,
		Reset:   tr.reset,
		ResetAt: NextReset(now, t.loc),
	}
	if left := st.MaxDailyAPICalls - st.APICallsUsedToday; left > 0 {
		res.Remaining = left
	}

	return res, nil
}

// Status returns the stored state, or nil if the user has not called yet
func (t *Tracker) Status(ctx context.Context, userID uuid.UUID) (*models.UserQuotaState, error) {
	var st *models.UserQuotaState
	err := t.guard(ctx, func(ctx context.Context) error {
		var err error
		st, err = t.store.Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storage.Unavailable("quota", err)
	}
	return st, nil
}

// ResetUser clears today's usage and warning flag
func (t *Tracker) ResetUser(ctx context.Context, userID uuid.UUID) (*models.UserQuotaState, error) {
	now := t.clock.Now()

	st, err := t.update(ctx, userID, func(current models.UserQuotaState, exists bool) (models.UserQuotaState, bool) {
		if !exists {
			return current, false
		}
		current.APICallsUsedToday = 0
		current.HasReceivedQuotaWarning = false
		current.LastResetTime = StartOfDay(now, t.loc)
		return current, true
	})
	if err != nil {
		return nil, storage.Unavailable("quota", err)
	}
	if st.UserID == uuid.Nil {
		return nil, nil
	}

	t.logger.Info("quota reset by operator", zap.String("user_id", userID.String()))
	return &st, nil
}

// SetExempt toggles the exemption. A user without a row gets one; its limit
// is filled in from the user's tier on the next consume.
func (t *Tracker) SetExempt(ctx context.Context, userID uuid.UUID, exempt bool) (*models.UserQuotaState, error) {
	now := t.clock.Now()

	st, err := t.update(ctx, userID, func(current models.UserQuotaState, exists bool) (models.UserQuotaState, bool) {
		if !exists {
			current = models.UserQuotaState{
				UserID:                       userID,
				LastResetTime:                StartOfDay(now, t.loc),
				QuotaWarningThresholdPercent: t.threshold,
			}
		}
		current.IsExemptFromQuota = exempt
		return current, true
	})
	if err != nil {
		return nil, storage.Unavailable("quota", err)
	}

	t.logger.Info("quota exemption changed",
		zap.String("user_id", userID.String()),
		zap.Bool("exempt", exempt),
	)
	return &st, nil
}

func (t *Tracker) update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (models.UserQuotaState, error) {
	var st models.UserQuotaState
	err := t.guard(ctx, func(ctx context.Context) error {
		var err error
		st, err = t.store.Update(ctx, userID, fn)
		return err
	})
	return st, err
}

// guard runs a store call detached from caller cancellation, bounded by the
// store timeout and the circuit breaker
func (t *Tracker) guard(ctx context.Context, call func(context.Context) error) error {
	callCtx := context.WithoutCancel(ctx)
	if t.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, t.timeout)
		defer cancel()
	}

	run := func(ctx context.Context) error {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrContended) {
			return circuitbreaker.Ignore(err)
		}
		if errors.Is(err, context.DeadlineExceeded) && t.storeHealthy() {
			return circuitbreaker.Ignore(storage.Contended("quota", err))
		}
		return err
	}

	if t.breaker != nil {
		return t.breaker.Execute(callCtx, run)
	}
	return run(callCtx)
}

// storeHealthy tells a slow user apart from a slow store: a timed out call
// is only an outage if the store cannot answer a ping either.
func (t *Tracker) storeHealthy() bool {
	p, ok := t.store.(pinger)
	if !ok {
		return false
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return p.Ping(ctx) == nil
}

func (t *Tracker) onStoreFailure(userID uuid.UUID, tier models.SubscriptionTier, now time.Time, err error) (ConsumeResult, error) {
	if !errors.Is(err, storage.ErrUnavailable) {
		err = storage.Unavailable("quota", err)
	}

	metrics.StoreFailures.WithLabelValues("quota", t.policy.String()).Inc()
	t.logger.Error("quota store unavailable",
		zap.String("user_id", userID.String()),
		zap.String("policy", t.policy.String()),
		zap.Error(err),
	)

	if t.policy == storage.FailClosed {
		return ConsumeResult{}, err
	}

	return ConsumeResult{
		Allowed:    true,
		Limit:      tier.DailyAPIQuota,
		Remaining:  tier.DailyAPIQuota,
		ResetAt:    NextReset(now, t.loc),
		FailedOpen: true,
	}, nil
}

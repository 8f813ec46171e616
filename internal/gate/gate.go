// Package gate makes the admission decision for one API request: tier bypass,
// rule match, load-adjusted limit, concurrency cap, rolling window and daily
// quota, in that order.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/loadmonitor"
	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/metrics"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/quota"
	"github.com/aman-churiwal/tier-gate/internal/ratelimit"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Wait suggested to callers rejected by the concurrency cap or a store outage
const shortRetry = time.Second

type RuleSource interface {
	Snapshot() *ratelimit.RuleSet
}

type QuotaConsumer interface {
	Consume(ctx context.Context, userID uuid.UUID, tier models.SubscriptionTier) (quota.ConsumeResult, error)
}

type LoadReader interface {
	Level() loadmonitor.Level
}

// Auditor receives bypass and rejection records. Record must not block.
type Auditor interface {
	Record(entry models.DecisionLog)
}

type Config struct {
	Rules       RuleSource
	Window      ratelimit.WindowCounter
	Quota       QuotaConsumer
	Load        LoadReader
	Concurrency *ratelimit.ConcurrencyLimiter
	Audit       Auditor
	Clock       clock.PassiveClock
	Logger      *zap.Logger
}

type Gate struct {
	rules       RuleSource
	window      ratelimit.WindowCounter
	quota       QuotaConsumer
	load        LoadReader
	concurrency *ratelimit.ConcurrencyLimiter
	audit       Auditor
	clock       clock.PassiveClock
	logger      *zap.Logger
}

// Request is one call to admit. Path and Method are already normalized.
type Request struct {
	UserID        uuid.UUID
	Tier          models.SubscriptionTier
	Path          string
	Method        string
	SystemAccount bool
}

func New(cfg Config) *Gate {
	if cfg.Concurrency == nil {
		cfg.Concurrency = ratelimit.NewConcurrencyLimiter()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Gate{
		rules:       cfg.Rules,
		window:      cfg.Window,
		quota:       cfg.Quota,
		load:        cfg.Load,
		concurrency: cfg.Concurrency,
		audit:       cfg.Audit,
		clock:       cfg.Clock,
		logger:      logging.OrNop(cfg.Logger).Named("gate"),
	}
}

// ResolveTier looks the tier up in the current rule snapshot
func (g *Gate) ResolveTier(id uuid.UUID) (models.SubscriptionTier, bool) {
	return g.rules.Snapshot().Tier(id)
}

// Admit decides whether req may proceed. The returned error is non-nil only
// when the caller was already cancelled or the decision could not be made at
// all; blocking outcomes are reported through the Decision. An admitted
// Decision holds a concurrency slot until Release.
func (g *Gate) Admit(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	start := time.Now()
	d, err := g.admit(ctx, req)
	metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return Decision{}, err
	}

	metrics.Decisions.WithLabelValues(d.Outcome.String(), d.Reason).Inc()
	if d.Bypassed || d.Outcome != Admit {
		g.record(req, d)
	}

	return d, nil
}

func (g *Gate) admit(ctx context.Context, req Request) (Decision, error) {
	tier := req.Tier
	level := loadmonitor.Normal
	if g.load != nil {
		level = g.load.Level()
	}

	d := Decision{
		TierID:    tier.ID,
		Tier:      tier.Name,
		LoadLevel: level,
	}

	if tier.BypassStandardRateLimits && (tier.IsSystemTier || req.SystemAccount) {
		d.Outcome = Admit
		d.Reason = ReasonBypass
		d.Bypassed = true
		g.logger.Info("rate limits bypassed",
			zap.String("user_id", req.UserID.String()),
			zap.String("tier", tier.Name),
			zap.String("path", req.Path),
		)
		return d, nil
	}

	rule := g.rules.Snapshot().Match(tier, req.Path, req.Method)
	if rule.Synthesized {
		metrics.SynthesizedRules.Inc()
		g.logger.Debug("using tier default rule",
			zap.Error(ratelimit.ErrMissingRule),
			zap.String("tier", tier.Name),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
		)
	}
	d.RuleID = rule.ID
	d.Synthesized = rule.Synthesized

	limit := EffectiveLimit(rule, level, req.SystemAccount)
	d.Limit = limit

	release, ok := g.concurrency.TryAcquire(req.UserID, tier.MaxConcurrentConnections)
	if !ok {
		d.Outcome = RateLimited
		d.Reason = ReasonConcurrency
		d.RetryAfter = shortRetry
		d.ResetAt = g.clock.Now().Add(shortRetry)
		return d, nil
	}

	// From here on the decision runs to completion even if the caller goes
	// away, so that no counter is left half-updated.
	ctx = context.WithoutCancel(ctx)

	win, err := g.window.TryAdmit(ctx, ratelimit.WindowKey(req.UserID.String(), rule), rule.Window, limit)
	if err != nil {
		release()
		if errors.Is(err, storage.ErrUnavailable) {
			return g.storeRejected(d, err), nil
		}
		return Decision{}, err
	}

	d.Remaining = win.Remaining
	d.ResetAt = win.ResetAt
	d.FailedOpen = win.FailedOpen

	if !win.Admitted {
		release()
		d.Outcome = RateLimited
		d.Reason = ReasonWindow
		d.RetryAfter = win.RetryAfter
		return d, nil
	}

	// The window slot is not refunded when the quota rejects: the attempt
	// still counts against the caller's request rate.
	q, err := g.quota.Consume(ctx, req.UserID, tier)
	if err != nil {
		release()
		if errors.Is(err, storage.ErrContended) {
			d = g.storeRejected(d, err)
			d.Reason = ReasonContention
			return d, nil
		}
		if errors.Is(err, storage.ErrUnavailable) {
			return g.storeRejected(d, err), nil
		}
		return Decision{}, err
	}

	d.QuotaLimit = q.Limit
	d.QuotaRemaining = q.Remaining
	d.QuotaResetAt = q.ResetAt
	d.QuotaWarning = q.Warning
	d.QuotaExempt = q.Exempt
	d.FailedOpen = d.FailedOpen || q.FailedOpen

	if !q.Allowed {
		release()
		d.Outcome = QuotaExceeded
		d.Reason = ReasonQuota
		d.RetryAfter = q.ResetAt.Sub(g.clock.Now())
		return d, nil
	}

	d.Outcome = Admit
	d.Reason = ReasonAllowed
	d.release = release
	return d, nil
}

// storeRejected is the fail-closed answer to a store outage. It also answers
// a caller whose own quota row is contended.
func (g *Gate) storeRejected(d Decision, err error) Decision {
	d.Outcome = RateLimited
	d.Reason = ReasonStoreUnavailable
	d.RetryAfter = shortRetry
	d.ResetAt = g.clock.Now().Add(shortRetry)
	d.cause = err
	return d
}

// EffectiveLimit applies the rule's load reduction. The reduction applies only
// to adaptive, non-critical rules under elevated or critical load, and not to
// system callers on rules that exempt them. A reduced limit never drops
// below 1.
func EffectiveLimit(rule ratelimit.MatchedRule, level loadmonitor.Level, systemAccount bool) int {
	limit := rule.Limit
	if !rule.IsAdaptive || !level.High() || rule.IsCritical {
		return limit
	}
	if rule.ExemptSystemAccounts && systemAccount {
		return limit
	}
	if rule.ReductionPercent <= 0 || limit <= 0 {
		return limit
	}

	reduced := limit * (100 - rule.ReductionPercent) / 100
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

func (g *Gate) record(req Request, d Decision) {
	if g.audit == nil {
		return
	}

	entry := models.DecisionLog{
		Timestamp:    g.clock.Now().UTC(),
		UserID:       req.UserID,
		TierID:       req.Tier.ID,
		Method:       req.Method,
		Path:         req.Path,
		Outcome:      d.Outcome.String(),
		Reason:       d.Reason,
		LoadLevel:    d.LoadLevel.String(),
		EffectiveCap: d.Limit,
	}
	if d.RuleID != uuid.Nil {
		id := d.RuleID
		entry.RuleID = &id
	}

	g.audit.Record(entry)
}

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/metrics"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"go.uber.org/zap"
)

// RuleLoader reads the authoritative tier and rule tables
type RuleLoader interface {
	ListTiers(ctx context.Context) ([]models.SubscriptionTier, error)
	ListActiveRules(ctx context.Context) ([]models.RateLimitRule, error)
}

// RuleCache holds the current RuleSet and reloads it on a fixed interval.
// Readers never block: Snapshot is a single atomic load.
type RuleCache struct {
	current          atomic.Pointer[RuleSet]
	loader           RuleLoader
	interval         time.Duration
	timeout          time.Duration
	defaultReduction int
	logger           *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

type RuleCacheConfig struct {
	Interval         time.Duration // default 30s
	Timeout          time.Duration // per reload, default 5s
	DefaultReduction int
	Logger           *zap.Logger
}

func NewRuleCache(loader RuleLoader, cfg RuleCacheConfig) *RuleCache {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	c := &RuleCache{
		loader:           loader,
		interval:         cfg.Interval,
		timeout:          cfg.Timeout,
		defaultReduction: cfg.DefaultReduction,
		logger:           logging.OrNop(cfg.Logger).Named("rules"),
	}
	c.current.Store(EmptyRuleSet())

	return c
}

// Snapshot returns the latest rule set. Never nil.
func (c *RuleCache) Snapshot() *RuleSet {
	return c.current.Load()
}

// Refresh reloads tiers and rules. On failure the previous snapshot stays in place.
func (c *RuleCache) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tiers, err := c.loader.ListTiers(ctx)
	if err != nil {
		metrics.RuleRefreshes.WithLabelValues("error").Inc()
		return err
	}

	rules, err := c.loader.ListActiveRules(ctx)
	if err != nil {
		metrics.RuleRefreshes.WithLabelValues("error").Inc()
		return err
	}

	set, err := NewRuleSet(tiers, rules, c.defaultReduction)
	if err != nil {
		// Invalid rows are skipped, the rest still apply
		c.logger.Warn("skipped invalid rate limit rules", zap.Error(err))
	}

	c.current.Store(set)
	metrics.RuleRefreshes.WithLabelValues("ok").Inc()
	c.logger.Debug("rule snapshot refreshed",
		zap.Int("tiers", set.Tiers()),
		zap.Int("rules", set.Rules()),
	)

	return nil
}

// Start performs an initial load and then refreshes on the configured interval
func (c *RuleCache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	err := c.Refresh(ctx)
	if err != nil {
		c.logger.Error("initial rule load failed", zap.Error(err))
	}

	go c.loop(c.stopChan, c.done)

	return err
}

func (c *RuleCache) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(context.Background()); err != nil {
				c.logger.Error("rule refresh failed, keeping previous snapshot", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}

func (c *RuleCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		<-c.done
		c.running = false
	}
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubLoader struct {
	mu    sync.Mutex
	tiers []models.SubscriptionTier
	rules []models.RateLimitRule
	err   error
}

func (s *stubLoader) ListTiers(context.Context) ([]models.SubscriptionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiers, s.err
}

func (s *stubLoader) ListActiveRules(context.Context) ([]models.RateLimitRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules, s.err
}

func TestRuleCacheRefresh(t *testing.T) {
	tier := testTier()
	loader := &stubLoader{
		tiers: []models.SubscriptionTier{tier},
		rules: []models.RateLimitRule{testRule(tier, "/api/**", "*", 1, 7)},
	}
	cache := NewRuleCache(loader, RuleCacheConfig{Logger: zaptest.NewLogger(t)})

	assert.Equal(t, 0, cache.Snapshot().Tiers())

	require.NoError(t, cache.Refresh(context.Background()))
	snap := cache.Snapshot()
	assert.Equal(t, 1, snap.Tiers())
	assert.Equal(t, 7, snap.Match(tier, "/api/x", "GET").Limit)

	got, ok := snap.Tier(tier.ID)
	require.True(t, ok)
	assert.Equal(t, "Pro", got.Name)
}

func TestRuleCacheKeepsSnapshotOnError(t *testing.T) {
	tier := testTier()
	loader := &stubLoader{tiers: []models.SubscriptionTier{tier}}
	cache := NewRuleCache(loader, RuleCacheConfig{Logger: zaptest.NewLogger(t)})
	require.NoError(t, cache.Refresh(context.Background()))

	loader.mu.Lock()
	loader.err = errors.New("db down")
	loader.mu.Unlock()

	assert.Error(t, cache.Refresh(context.Background()))
	assert.Equal(t, 1, cache.Snapshot().Tiers())
}

func TestRuleCacheStartStop(t *testing.T) {
	loader := &stubLoader{tiers: []models.SubscriptionTier{testTier()}}
	cache := NewRuleCache(loader, RuleCacheConfig{Logger: zaptest.NewLogger(t)})

	require.NoError(t, cache.Start(context.Background()))
	assert.Equal(t, 1, cache.Snapshot().Tiers())

	cache.Stop()
	cache.Stop()
}

package ratelimit

import (
	"testing"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTier() models.SubscriptionTier {
	return models.SubscriptionTier{
		ID:                       uuid.New(),
		Name:                     "Pro",
		DefaultRateLimit:         60,
		DefaultTimeWindowSeconds: 60,
		DailyAPIQuota:            500,
	}
}

func testRule(tier models.SubscriptionTier, pattern, method string, priority, limit int) models.RateLimitRule {
	return models.RateLimitRule{
		ID:                 uuid.New(),
		SubscriptionTierID: tier.ID,
		EndpointPattern:    pattern,
		HTTPMethod:         method,
		RateLimit:          limit,
		TimeWindowSeconds:  60,
		MatchPriority:      priority,
		IsActive:           true,
	}
}

func TestMatchPrefersLowerPriority(t *testing.T) {
	tier := testTier()
	wildcard := testRule(tier, "/api/tasks/*", "*", 2, 10)
	exact := testRule(tier, "/api/tasks/priority", "*", 1, 5)

	set, err := NewRuleSet([]models.SubscriptionTier{tier}, []models.RateLimitRule{wildcard, exact}, 0)
	require.NoError(t, err)

	// Resolution must never flip between the two candidates
	for i := 0; i < 10000; i++ {
		m := set.Match(tier, "/api/tasks/priority", "GET")
		require.Equal(t, exact.ID, m.ID)
	}

	m := set.Match(tier, "/api/tasks/123", "GET")
	assert.Equal(t, wildcard.ID, m.ID)
	assert.Equal(t, 10, m.Limit)
	assert.False(t, m.Synthesized)
}

func TestMatchTieBreaksBySpecificity(t *testing.T) {
	tier := testTier()
	broad := testRule(tier, "/api/**", "*", 100, 100)
	wildcard := testRule(tier, "/api/tasks/*", "*", 100, 10)
	exact := testRule(tier, "/api/tasks/priority", "*", 100, 5)
	methodSpecific := testRule(tier, "/api/tasks/priority", "POST", 100, 1)

	set, err := NewRuleSet([]models.SubscriptionTier{tier},
		[]models.RateLimitRule{broad, wildcard, exact, methodSpecific}, 0)
	require.NoError(t, err)

	assert.Equal(t, methodSpecific.ID, set.Match(tier, "/api/tasks/priority", "post").ID)
	assert.Equal(t, exact.ID, set.Match(tier, "/api/tasks/priority", "GET").ID)
	assert.Equal(t, wildcard.ID, set.Match(tier, "/api/tasks/7", "GET").ID)
	assert.Equal(t, broad.ID, set.Match(tier, "/api/users/7/orders", "GET").ID)
	assert.Equal(t, broad.ID, set.Match(tier, "/api", "GET").ID)
}

func TestMatchIsDeterministicForIdenticalRules(t *testing.T) {
	tier := testTier()
	a := testRule(tier, "/api/items/*", "*", 50, 10)
	b := testRule(tier, "/api/items/*", "*", 50, 20)

	first, err := NewRuleSet([]models.SubscriptionTier{tier}, []models.RateLimitRule{a, b}, 0)
	require.NoError(t, err)
	second, err := NewRuleSet([]models.SubscriptionTier{tier}, []models.RateLimitRule{b, a}, 0)
	require.NoError(t, err)

	assert.Equal(t, first.Match(tier, "/api/items/1", "GET").ID, second.Match(tier, "/api/items/1", "GET").ID)
}

func TestMatchSynthesizesTierDefault(t *testing.T) {
	tier := testTier()
	set, err := NewRuleSet([]models.SubscriptionTier{tier},
		[]models.RateLimitRule{testRule(tier, "/api/tasks/*", "*", 1, 10)}, 25)
	require.NoError(t, err)

	m := set.Match(tier, "/api/reports", "GET")
	assert.True(t, m.Synthesized)
	assert.Equal(t, uuid.Nil, m.ID)
	assert.Equal(t, 60, m.Limit)
	assert.Equal(t, time.Minute, m.Window)
	assert.Equal(t, DefaultRuleKey, m.Key())
	assert.True(t, m.IsAdaptive)
	assert.Equal(t, 25, m.ReductionPercent)
}

func TestMatchIgnoresOtherTiers(t *testing.T) {
	tier := testTier()
	other := testTier()
	set, err := NewRuleSet([]models.SubscriptionTier{tier, other},
		[]models.RateLimitRule{testRule(other, "/api/**", "*", 1, 1)}, 0)
	require.NoError(t, err)

	assert.True(t, set.Match(tier, "/api/x", "GET").Synthesized)
}

func TestNewRuleSetSkipsInvalidAndInactive(t *testing.T) {
	tier := testTier()
	inactive := testRule(tier, "/api/**", "*", 1, 1)
	inactive.IsActive = false
	badWindow := testRule(tier, "/api/a", "*", 1, 1)
	badWindow.TimeWindowSeconds = 0
	badPattern := testRule(tier, "/api/**/x", "*", 1, 1)
	good := testRule(tier, "/api/b", "GET", 1, 1)

	set, err := NewRuleSet([]models.SubscriptionTier{tier},
		[]models.RateLimitRule{inactive, badWindow, badPattern, good}, 0)
	assert.Error(t, err)
	require.NotNil(t, set)

	assert.Equal(t, 1, set.Rules())
	assert.Equal(t, good.ID, set.Match(tier, "/api/b", "GET").ID)
	assert.True(t, set.Match(tier, "/api/a", "GET").Synthesized)
}

func TestWindowKeySeparatesRulesAndTiers(t *testing.T) {
	tier := testTier()
	rule := MatchedRule{ID: uuid.New(), TierID: tier.ID}
	def := MatchedRule{TierID: tier.ID, Synthesized: true}

	assert.NotEqual(t, WindowKey("u1", rule), WindowKey("u1", def))
	assert.NotEqual(t, WindowKey("u1", rule), WindowKey("u2", rule))
	assert.Contains(t, WindowKey("u1", def), DefaultRuleKey)
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/gate"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/quota"
	"github.com/aman-churiwal/tier-gate/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	clocktesting "k8s.io/utils/clock/testing"
)

type staticRules struct{ set *ratelimit.RuleSet }

func (s staticRules) Snapshot() *ratelimit.RuleSet { return s.set }

func newGate(t *testing.T, tiers ...models.SubscriptionTier) *gate.Gate {
	t.Helper()

	set, err := ratelimit.NewRuleSet(tiers, nil, 0)
	require.NoError(t, err)

	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	return gate.New(gate.Config{
		Rules:  staticRules{set: set},
		Window: ratelimit.NewMemoryWindow(clk),
		Quota: quota.NewTracker(quota.Config{
			Store: quota.NewMemoryStore(),
			Clock: clk,
		}),
		Clock:  clk,
		Logger: zaptest.NewLogger(t),
	})
}

func gatedRouter(t *testing.T, g Admitter, key *models.APIKey) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if key != nil {
			c.Set("api_key", key)
		}
		c.Next()
	})
	r.Use(Admission(g, zaptest.NewLogger(t)))
	r.GET("/*path", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestAdmissionSetsHeadersAndRejects(t *testing.T) {
	tier := models.SubscriptionTier{
		ID:                       uuid.New(),
		Name:                     "Basic",
		DefaultRateLimit:         2,
		DefaultTimeWindowSeconds: 60,
		DailyAPIQuota:            100,
	}
	key := &models.APIKey{ID: uuid.New(), UserID: uuid.New(), SubscriptionTierID: tier.ID}
	r := gatedRouter(t, newGate(t, tier), key)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "Basic", w.Header().Get("X-RateLimit-Tier"))
		assert.Equal(t, "100", w.Header().Get("X-Quota-Limit"))
		assert.Equal(t, strconv.Itoa(99-i), w.Header().Get("X-Quota-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-Quota-Reset"))
		assert.Empty(t, w.Header().Get("Retry-After"))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	// the full window must age out to half weight before one more fits
	assert.Equal(t, "90", w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, "window", body["reason"])
}

func TestAdmissionQuotaExceeded(t *testing.T) {
	tier := models.SubscriptionTier{
		ID:                       uuid.New(),
		Name:                     "Trial",
		DefaultRateLimit:         100,
		DefaultTimeWindowSeconds: 60,
		DailyAPIQuota:            1,
	}
	key := &models.APIKey{ID: uuid.New(), UserID: uuid.New(), SubscriptionTierID: tier.ID}
	r := gatedRouter(t, newGate(t, tier), key)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	// noon to next midnight UTC
	assert.Equal(t, strconv.Itoa(12*60*60), w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-Quota-Remaining"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "quota_exceeded", body["error"])
}

func TestAdmissionBypassOmitsCounters(t *testing.T) {
	tier := models.SubscriptionTier{
		ID:                       uuid.New(),
		Name:                     "Internal",
		DefaultRateLimit:         1,
		DefaultTimeWindowSeconds: 60,
		DailyAPIQuota:            1,
		BypassStandardRateLimits: true,
		IsSystemTier:             true,
	}
	key := &models.APIKey{ID: uuid.New(), UserID: uuid.New(), SubscriptionTierID: tier.ID}
	r := gatedRouter(t, newGate(t, tier), key)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Internal", w.Header().Get("X-RateLimit-Tier"))
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.Empty(t, w.Header().Get("X-Quota-Limit"))
	}
}

func TestAdmissionWithoutKeyOrTier(t *testing.T) {
	g := newGate(t)

	w := httptest.NewRecorder()
	gatedRouter(t, g, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	key := &models.APIKey{ID: uuid.New(), UserID: uuid.New(), SubscriptionTierID: uuid.New()}
	w = httptest.NewRecorder()
	gatedRouter(t, g, key).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmissionReleasesConcurrencySlot(t *testing.T) {
	tier := models.SubscriptionTier{
		ID:                       uuid.New(),
		Name:                     "Solo",
		DefaultRateLimit:         100,
		DefaultTimeWindowSeconds: 60,
		DailyAPIQuota:            100,
		MaxConcurrentConnections: 1,
	}
	key := &models.APIKey{ID: uuid.New(), UserID: uuid.New(), SubscriptionTierID: tier.ID}
	r := gatedRouter(t, newGate(t, tier), key)

	// Sequential requests each release their slot on the way out
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                  "/",
		"v1/orders":         "/v1/orders",
		"/v1//orders/":      "/v1/orders",
		"/v1/./orders/../x": "/v1/x",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

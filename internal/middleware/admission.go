package middleware

import (
	"context"
	"net/http"
	"path"
	"strconv"

	"github.com/aman-churiwal/tier-gate/internal/gate"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status sent when the caller went away before the decision was made
const statusClientClosedRequest = 499

type Admitter interface {
	Admit(ctx context.Context, req gate.Request) (gate.Decision, error)
	ResolveTier(id uuid.UUID) (models.SubscriptionTier, bool)
}

// Admission runs the gate for the key resolved by APIKeyValidator. Admitted
// requests keep their concurrency slot until the rest of the chain returns.
func Admission(g Admitter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey, ok := APIKeyFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "API key required",
			})
			c.Abort()
			return
		}

		tier, ok := g.ResolveTier(apiKey.SubscriptionTierID)
		if !ok {
			logger.Warn("api key references unknown tier",
				zap.String("key_id", apiKey.ID.String()),
				zap.String("tier_id", apiKey.SubscriptionTierID.String()),
			)
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Unknown subscription tier",
			})
			c.Abort()
			return
		}

		d, err := g.Admit(c.Request.Context(), gate.Request{
			UserID:        apiKey.UserID,
			Tier:          tier,
			Path:          NormalizePath(c.Request.URL.Path),
			Method:        c.Request.Method,
			SystemAccount: apiKey.IsSystemAccount,
		})
		if err != nil {
			c.AbortWithStatus(statusClientClosedRequest)
			return
		}
		defer d.Release()

		SetDecisionHeaders(c, d)

		switch d.Outcome {
		case gate.RateLimited:
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"reason":      d.Reason,
				"tier":        d.Tier,
				"limit":       d.Limit,
				"retry_after": d.RetryAfterSeconds(),
			})
			c.Abort()
			return
		case gate.QuotaExceeded:
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "quota_exceeded",
				"tier":        d.Tier,
				"quota_limit": d.QuotaLimit,
				"retry_after": d.RetryAfterSeconds(),
			})
			c.Abort()
			return
		}

		c.Set("decision", d)
		c.Next()
	}
}

// SetDecisionHeaders writes the rate limit and quota headers for d
func SetDecisionHeaders(c *gin.Context, d gate.Decision) {
	c.Header("X-RateLimit-Tier", d.Tier)

	if !d.Bypassed {
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.ResetAt.IsZero() {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
	}

	if !d.Bypassed && !d.QuotaExempt && !d.QuotaResetAt.IsZero() {
		c.Header("X-Quota-Limit", strconv.Itoa(d.QuotaLimit))
		c.Header("X-Quota-Remaining", strconv.Itoa(d.QuotaRemaining))
		c.Header("X-Quota-Reset", strconv.FormatInt(d.QuotaResetAt.Unix(), 10))
		if d.QuotaWarning {
			c.Header("X-Quota-Warning", "true")
		}
	}

	if !d.Admitted() {
		c.Header("Retry-After", strconv.FormatInt(d.RetryAfterSeconds(), 10))
	}
}

// NormalizePath cleans p so that equivalent spellings hit the same rule
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

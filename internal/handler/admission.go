package handler

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/tier-gate/internal/gate"
	"github.com/aman-churiwal/tier-gate/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdmissionHandler answers admission questions for callers that enforce the
// decision themselves
type AdmissionHandler struct {
	gate middleware.Admitter
	keys middleware.KeyValidator
}

func NewAdmissionHandler(g middleware.Admitter, keys middleware.KeyValidator) *AdmissionHandler {
	return &AdmissionHandler{gate: g, keys: keys}
}

type admissionRequest struct {
	// Either APIKey, or UserID with TierID
	APIKey        string     `json:"api_key"`
	UserID        *uuid.UUID `json:"user_id"`
	TierID        *uuid.UUID `json:"tier_id"`
	SystemAccount bool       `json:"system_account"`
	Path          string     `json:"path" binding:"required"`
	Method        string     `json:"method" binding:"required"`
}

// Handles POST /v1/admission. The decision is returned, never enforced; the
// concurrency slot of an admit is released before responding.
func (h *AdmissionHandler) Decide(c *gin.Context) {
	var req admissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	gr := gate.Request{
		Path:          middleware.NormalizePath(req.Path),
		Method:        strings.ToUpper(req.Method),
		SystemAccount: req.SystemAccount,
	}

	var tierID uuid.UUID
	switch {
	case req.APIKey != "":
		apiKey, err := h.keys.Validate(ctx, strings.TrimSpace(req.APIKey))
		if err != nil || apiKey == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		gr.UserID = apiKey.UserID
		gr.SystemAccount = apiKey.IsSystemAccount
		tierID = apiKey.SubscriptionTierID
	case req.UserID != nil && req.TierID != nil:
		gr.UserID = *req.UserID
		tierID = *req.TierID
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key or user_id and tier_id required"})
		return
	}

	tier, ok := h.gate.ResolveTier(tierID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown subscription tier"})
		return
	}
	gr.Tier = tier

	d, err := h.gate.Admit(ctx, gr)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	d.Release()

	middleware.SetDecisionHeaders(c, d)
	c.JSON(http.StatusOK, gin.H{
		"decision":            d,
		"retry_after_seconds": d.RetryAfterSeconds(),
	})
}

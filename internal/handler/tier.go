package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/tier-gate/internal/service"
	"github.com/gin-gonic/gin"
)

type TierHandler struct {
	service *service.TierService
}

func NewTierHandler(service *service.TierService) *TierHandler {
	return &TierHandler{service: service}
}

// Maps tier service errors to a status code
func tierError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTierNotFound), errors.Is(err, service.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTier), errors.Is(err, service.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Handles POST /admin/tiers
func (h *TierHandler) CreateTier(c *gin.Context) {
	var req service.TierInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier, err := h.service.CreateTier(c.Request.Context(), req)
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tier)
}

func (h *TierHandler) ListTiers(c *gin.Context) {
	tiers, err := h.service.ListTiers(c.Request.Context())
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, tiers)
}

func (h *TierHandler) GetTier(c *gin.Context) {
	tier, err := h.service.GetTier(c.Request.Context(), c.Param("id"))
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, tier)
}

// Handles PUT /admin/tiers/:id. The body replaces every writable field.
func (h *TierHandler) UpdateTier(c *gin.Context) {
	var req service.TierInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier, err := h.service.UpdateTier(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, tier)
}

func (h *TierHandler) DeleteTier(c *gin.Context) {
	if err := h.service.DeleteTier(c.Request.Context(), c.Param("id")); err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Tier deleted successfully"})
}

// Handles POST /admin/tiers/:id/rules
func (h *TierHandler) CreateRule(c *gin.Context) {
	var req service.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (h *TierHandler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, rules)
}

func (h *TierHandler) GetRule(c *gin.Context) {
	rule, err := h.service.GetRule(c.Request.Context(), c.Param("id"), c.Param("rule_id"))
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

func (h *TierHandler) UpdateRule(c *gin.Context) {
	var req service.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.service.UpdateRule(c.Request.Context(), c.Param("id"), c.Param("rule_id"), req)
	if err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

func (h *TierHandler) DeleteRule(c *gin.Context) {
	if err := h.service.DeleteRule(c.Request.Context(), c.Param("id"), c.Param("rule_id")); err != nil {
		tierError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// Handles POST /admin/rules/refresh
func (h *TierHandler) Refresh(c *gin.Context) {
	if err := h.service.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rules reloaded"})
}

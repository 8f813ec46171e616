package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/tier-gate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type APIKeyHandler struct {
	service *service.APIKeyService
}

func NewAPIKeyHandler(service *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

func (h *APIKeyHandler) Create(c *gin.Context) {
	var req service.NewKeyInput

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	key, apiKey, err := h.service.Create(ctx, req, c.GetString("email"))
	if errors.Is(err, service.ErrTierNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"api_key": apiKey,
		"message": "Save this key - it won't be shown again",
	})
}

func (h *APIKeyHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	keys, err := h.service.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, keys)
}

func (h *APIKeyHandler) Get(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	apiKey, err := h.service.Get(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if apiKey == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}

	c.JSON(http.StatusOK, apiKey)
}

func (h *APIKeyHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Name            *string    `json:"name"`
		TierID          *uuid.UUID `json:"subscription_tier_id"`
		IsActive        *bool      `json:"is_active"`
		IsSystemAccount *bool      `json:"is_system_account"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.TierID != nil {
		updates["subscription_tier_id"] = *req.TierID
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.IsSystemAccount != nil {
		updates["is_system_account"] = *req.IsSystemAccount
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}

	ctx := c.Request.Context()
	if err := h.service.Update(ctx, id, updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key updated successfully"})
}

// Handles PUT /admin/users/:user_id/tier
func (h *APIKeyHandler) ReassignTier(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var req struct {
		TierID uuid.UUID `json:"subscription_tier_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.service.ReassignTier(c.Request.Context(), userID, req.TierID)
	if errors.Is(err, service.ErrTierNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Tier reassigned",
		"keys_updated": n,
	})
}

func (h *APIKeyHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	if err := h.service.Delete(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted successfully"})
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type QuotaAdmin interface {
	Status(ctx context.Context, userID uuid.UUID) (*models.UserQuotaState, error)
	ResetUser(ctx context.Context, userID uuid.UUID) (*models.UserQuotaState, error)
	SetExempt(ctx context.Context, userID uuid.UUID, exempt bool) (*models.UserQuotaState, error)
}

type QuotaHandler struct {
	quotas QuotaAdmin
}

func NewQuotaHandler(quotas QuotaAdmin) *QuotaHandler {
	return &QuotaHandler{quotas: quotas}
}

func quotaError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func userParam(c *gin.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return uuid.Nil, false
	}
	return userID, true
}

// Handles GET /admin/quotas/:user_id
func (h *QuotaHandler) Get(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}

	state, err := h.quotas.Status(c.Request.Context(), userID)
	if err != nil {
		quotaError(c, err)
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No quota recorded for user"})
		return
	}

	c.JSON(http.StatusOK, state)
}

// Handles POST /admin/quotas/:user_id/reset
func (h *QuotaHandler) Reset(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}

	state, err := h.quotas.ResetUser(c.Request.Context(), userID)
	if err != nil {
		quotaError(c, err)
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No quota recorded for user"})
		return
	}

	c.JSON(http.StatusOK, state)
}

// Handles PUT /admin/quotas/:user_id/exempt
func (h *QuotaHandler) SetExempt(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}

	var req struct {
		Exempt *bool `json:"exempt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.quotas.SetExempt(c.Request.Context(), userID, *req.Exempt)
	if err != nil {
		quotaError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

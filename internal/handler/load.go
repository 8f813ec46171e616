package handler

import (
	"net/http"

	"github.com/aman-churiwal/tier-gate/internal/loadmonitor"
	"github.com/gin-gonic/gin"
)

type LoadController interface {
	Snapshot() loadmonitor.Snapshot
	SetOverride(l loadmonitor.Level)
	ClearOverride()
}

type LoadHandler struct {
	monitor LoadController
}

func NewLoadHandler(monitor LoadController) *LoadHandler {
	return &LoadHandler{monitor: monitor}
}

// Handles GET /admin/load
func (h *LoadHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

// Handles PUT /admin/load. An empty or null level clears the override.
func (h *LoadHandler) SetOverride(c *gin.Context) {
	var req struct {
		Level *string `json:"level"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Level == nil || *req.Level == "" {
		h.monitor.ClearOverride()
		c.JSON(http.StatusOK, h.monitor.Snapshot())
		return
	}

	level, err := loadmonitor.ParseLevel(*req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.monitor.SetOverride(level)
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

// Handles DELETE /admin/load/override
func (h *LoadHandler) ClearOverride(c *gin.Context) {
	h.monitor.ClearOverride()
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

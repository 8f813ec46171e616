package handler

import (
	"net/http"

	"github.com/aman-churiwal/tier-gate/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
)

// Handles system-related endpoints
type SystemHandler struct {
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func NewSystemHandler(breakers ...*circuitbreaker.CircuitBreaker) *SystemHandler {
	h := &SystemHandler{breakers: make(map[string]*circuitbreaker.CircuitBreaker, len(breakers))}
	for _, b := range breakers {
		if b != nil {
			h.breakers[b.Name()] = b
		}
	}
	return h
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]circuitbreaker.Metrics, len(h.breakers))

	for name, b := range h.breakers {
		statuses[name] = b.Metrics()
	}

	c.JSON(http.StatusOK, statuses)
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")

	b, exists := h.breakers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Circuit breaker not found",
		})
		return
	}

	b.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"name":    name,
	})
}

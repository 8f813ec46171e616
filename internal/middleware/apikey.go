package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

// Resolves X-API-Key to the calling user. Requests without a valid key are
// rejected; every gated route needs a principal.
func APIKeyValidator(keys KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKeyHeader := strings.TrimSpace(c.GetHeader("X-API-Key"))

		if apiKeyHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "API key required",
			})
			c.Abort()
			return
		}

		apiKey, err := keys.Validate(c.Request.Context(), apiKeyHeader)

		if err != nil || apiKey == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Set("api_key", apiKey)
		c.Set("api_key_id", apiKey.ID)

		go keys.UpdateLastUsed(context.WithoutCancel(c.Request.Context()), apiKey.ID)

		c.Next()
	}
}

// Returns the key set by APIKeyValidator
func APIKeyFrom(c *gin.Context) (*models.APIKey, bool) {
	v, ok := c.Get("api_key")
	if !ok {
		return nil, false
	}
	key, ok := v.(*models.APIKey)
	return key, ok && key != nil
}

package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

type fakeTokens map[string]string

func (f fakeTokens) ValidateToken(token string) (jwt.MapClaims, error) {
	role, ok := f[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return jwt.MapClaims{"user_id": "op-1", "email": "op@example.com", "role": role}, nil
}

func TestRequireAuthAndRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tokens := fakeTokens{"admin-token": models.RoleAdmin, "service-token": models.RoleService}
	r := gin.New()
	r.GET("/admin/load", RequireAuth(tokens), RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/load", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("admin-token"))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer nope"))
	assert.Equal(t, http.StatusForbidden, call("Bearer service-token"))
	assert.Equal(t, http.StatusOK, call("Bearer admin-token"))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestLoginLimiterPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewLoginLimiter(0.001, 2)
	r := gin.New()
	r.POST("/auth/login", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	login := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, login("10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, login("10.0.0.1").Code)

	w := login("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// another client has its own bucket
	assert.Equal(t, http.StatusNoContent, login("10.0.0.2").Code)
}

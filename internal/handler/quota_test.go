package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/quota"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type downQuotas struct{}

func (downQuotas) Status(context.Context, uuid.UUID) (*models.UserQuotaState, error) {
	return nil, storage.Unavailable("quota", fmt.Errorf("connection refused"))
}

func (downQuotas) ResetUser(context.Context, uuid.UUID) (*models.UserQuotaState, error) {
	return nil, storage.Unavailable("quota", fmt.Errorf("connection refused"))
}

func (downQuotas) SetExempt(context.Context, uuid.UUID, bool) (*models.UserQuotaState, error) {
	return nil, storage.Unavailable("quota", fmt.Errorf("connection refused"))
}

func quotaRouter(q QuotaAdmin) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewQuotaHandler(q)
	r := gin.New()
	r.GET("/admin/quotas/:user_id", h.Get)
	r.POST("/admin/quotas/:user_id/reset", h.Reset)
	r.PUT("/admin/quotas/:user_id/exempt", h.SetExempt)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestQuotaHandlerLifecycle(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	tracker := quota.NewTracker(quota.Config{Store: quota.NewMemoryStore(), Clock: clk})
	r := quotaRouter(tracker)

	user := uuid.New()
	path := "/admin/quotas/" + user.String()

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, path+"/reset", "").Code)

	tier := models.SubscriptionTier{ID: uuid.New(), DailyAPIQuota: 10}
	for i := 0; i < 3; i++ {
		_, err := tracker.Consume(context.Background(), user, tier)
		require.NoError(t, err)
	}

	w := serve(r, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"api_calls_used_today":3`)

	w = serve(r, http.MethodPost, path+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"api_calls_used_today":0`)

	w = serve(r, http.MethodPut, path+"/exempt", `{"exempt":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_exempt_from_quota":true`)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPut, path+"/exempt", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/admin/quotas/not-a-uuid", "").Code)
}

func TestQuotaHandlerStoreDown(t *testing.T) {
	r := quotaRouter(downQuotas{})
	path := "/admin/quotas/" + uuid.NewString()

	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodPost, path+"/reset", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodPut, path+"/exempt", `{"exempt":false}`).Code)
}

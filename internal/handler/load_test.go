package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aman-churiwal/tier-gate/internal/loadmonitor"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadOverrideRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	monitor := loadmonitor.New(loadmonitor.Config{Logger: zaptest.NewLogger(t)})
	h := NewLoadHandler(monitor)

	r := gin.New()
	r.GET("/admin/load", h.Get)
	r.PUT("/admin/load", h.SetOverride)
	r.DELETE("/admin/load/override", h.ClearOverride)

	do := func(method, body string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(method, "/admin/load", strings.NewReader(body))
		if method == http.MethodDelete {
			req = httptest.NewRequest(method, "/admin/load/override", nil)
		}
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w, out
	}

	w, out := do(http.MethodGet, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "normal", out["level"])

	w, out = do(http.MethodPut, `{"level":"critical"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "critical", out["level"])
	assert.Equal(t, "critical", out["override"])
	assert.Equal(t, loadmonitor.Critical, monitor.Level())

	w, _ = do(http.MethodPut, `{"level":"apocalyptic"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, loadmonitor.Critical, monitor.Level())

	w, out = do(http.MethodPut, `{"level":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "normal", out["level"])
	assert.Nil(t, out["override"])

	monitor.SetOverride(loadmonitor.Elevated)
	w, out = do(http.MethodDelete, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "normal", out["level"])
}

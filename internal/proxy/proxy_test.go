package proxy

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type loadRecorder struct {
	inFlight atomic.Int64
	maxDepth atomic.Int64
	observed atomic.Int64
}

func (l *loadRecorder) Begin() {
	n := l.inFlight.Add(1)
	if n > l.maxDepth.Load() {
		l.maxDepth.Store(n)
	}
}

func (l *loadRecorder) End() { l.inFlight.Add(-1) }

func (l *loadRecorder) Observe(time.Duration) { l.observed.Add(1) }

func newRouter(t *testing.T, upstream string, load LoadObserver) (*gin.Engine, *Proxy) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p, err := New(Config{
		Target: upstream,
		CircuitBreaker: circuitbreaker.Config{
			Name:        "upstream-test",
			MaxFailures: 2,
			Timeout:     time.Minute,
		},
		Load:   load,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	r := gin.New()
	r.Any("/*path", p.Handle)
	return r, p
}

func TestProxyForwardsAndReportsLoad(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Path", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	load := &loadRecorder{}
	r, _ := newRouter(t, upstream.URL, load)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/orders", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/v1/orders", w.Header().Get("X-Seen-Path"))
	assert.EqualValues(t, 1, load.observed.Load())
	assert.EqualValues(t, 1, load.maxDepth.Load())
	assert.EqualValues(t, 0, load.inFlight.Load())
}

func TestProxyOpensBreakerOnUpstreamErrors(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	r, p := newRouter(t, upstream.URL, nil)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}
	assert.Equal(t, circuitbreaker.StateOpen, p.CircuitBreaker().State())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.EqualValues(t, 2, hits.Load())
}

func TestProxyUnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	r, _ := newRouter(t, url, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNewRejectsBadTarget(t *testing.T) {
	_, err := New(Config{Target: ""})
	assert.Error(t, err)

	_, err = New(Config{Target: "localhost:3001"})
	assert.Error(t, err)
}

package loadmonitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) Config {
	return Config{
		Interval:         time.Hour,
		ElevatedLatency:  250 * time.Millisecond,
		CriticalLatency:  time.Second,
		ElevatedInFlight: 5,
		CriticalInFlight: 10,
		EWMAAge:          2,
		Logger:           zaptest.NewLogger(t),
	}
}

func observe(m *Monitor, latency time.Duration, n int) {
	for i := 0; i < n; i++ {
		m.Observe(latency)
	}
}

func TestMonitorStartsNormal(t *testing.T) {
	m := New(testConfig(t))
	assert.Equal(t, Normal, m.Level())

	m.tick(context.Background())
	assert.Equal(t, Normal, m.Level())
}

func TestMonitorLatencyLevels(t *testing.T) {
	m := New(testConfig(t))
	ctx := context.Background()

	observe(m, 500*time.Millisecond, 20)
	m.tick(ctx)
	assert.Equal(t, Elevated, m.Level())

	observe(m, 2*time.Second, 20)
	m.tick(ctx)
	assert.Equal(t, Critical, m.Level())

	// Idle intervals decay the average back down
	m.tick(ctx)
	assert.Equal(t, Elevated, m.Level())
	m.tick(ctx)
	assert.Equal(t, Normal, m.Level())
}

func TestMonitorInFlightLevels(t *testing.T) {
	m := New(testConfig(t))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		m.Begin()
	}
	m.tick(ctx)
	assert.Equal(t, Elevated, m.Level())

	for i := 0; i < 4; i++ {
		m.Begin()
	}
	m.tick(ctx)
	assert.Equal(t, Critical, m.Level())

	for i := 0; i < 10; i++ {
		m.End()
	}
	m.tick(ctx)
	assert.Equal(t, Normal, m.Level())
	assert.Equal(t, int64(0), m.Snapshot().InFlight)
}

func TestMonitorOverride(t *testing.T) {
	m := New(testConfig(t))

	m.SetOverride(Critical)
	assert.Equal(t, Critical, m.Level())

	snap := m.Snapshot()
	assert.Equal(t, Normal, snap.Computed)
	require.NotNil(t, snap.Override)
	assert.Equal(t, Critical, *snap.Override)

	m.ClearOverride()
	assert.Equal(t, Normal, m.Level())
	assert.Nil(t, m.Snapshot().Override)
}

func TestMonitorUpstreamProbe(t *testing.T) {
	var healthy atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := testConfig(t)
	cfg.ProbeURL = upstream.URL + "/health"
	cfg.MaxProbeFailures = 2
	m := New(cfg)
	ctx := context.Background()

	m.tick(ctx)
	assert.Equal(t, Normal, m.Level())
	m.tick(ctx)
	assert.Equal(t, Critical, m.Level())

	healthy.Store(true)
	m.tick(ctx)
	assert.Equal(t, Normal, m.Level())
}

func TestMonitorStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interval = 5 * time.Millisecond
	m := New(cfg)

	m.Start()
	m.Start()
	for i := 0; i < 10; i++ {
		m.Begin()
	}

	require.Eventually(t, func() bool { return m.Level() == Critical }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("Elevated")
	require.NoError(t, err)
	assert.Equal(t, Elevated, l)
	assert.True(t, l.High())
	assert.False(t, Normal.High())

	_, err = ParseLevel("panic")
	assert.Error(t, err)
}

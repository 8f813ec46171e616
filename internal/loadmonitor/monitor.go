// Package loadmonitor classifies current system load from upstream latency,
// in-flight depth and an optional upstream health probe.
package loadmonitor

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/metrics"
	"go.uber.org/zap"
)

const noOverride = -1

// Holds load monitor configuration
type Config struct {
	Interval         time.Duration // How often to reclassify (default: 1s)
	ElevatedLatency  time.Duration
	CriticalLatency  time.Duration
	ElevatedInFlight int64
	CriticalInFlight int64
	EWMAAge          float64 // average sample age, in ticks (default: 10)

	// Optional upstream health endpoint. After MaxProbeFailures consecutive
	// failures the level is pinned to Critical until a probe succeeds.
	ProbeURL         string
	ProbeTimeout     time.Duration // default: 2s
	MaxProbeFailures int           // default: 3

	Logger *zap.Logger
}

// Monitor exposes the current load level as a single atomic read. Inputs are
// recorded with atomics; a ticker goroutine folds them into the level.
type Monitor struct {
	level    atomic.Int32
	override atomic.Int32

	inFlight     atomic.Int64
	latencySum   atomic.Int64 // ns since last tick
	latencyCount atomic.Int64

	mu            sync.Mutex
	avg           ewma.MovingAverage
	primed        bool
	probeFailures int

	cfg      Config
	client   *http.Client
	logger   *zap.Logger
	stopChan chan struct{}
	running  bool
}

func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.EWMAAge <= 0 {
		cfg.EWMAAge = 10
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.MaxProbeFailures <= 0 {
		cfg.MaxProbeFailures = 3
	}

	m := &Monitor{
		avg:    ewma.NewMovingAverage(cfg.EWMAAge),
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
		logger: logging.OrNop(cfg.Logger).Named("load"),
	}
	m.override.Store(noOverride)

	return m
}

// Level returns the operator override if one is set, else the computed level
func (m *Monitor) Level() Level {
	if o := m.override.Load(); o != noOverride {
		return Level(o)
	}
	return Level(m.level.Load())
}

// Observe records one upstream call latency
func (m *Monitor) Observe(latency time.Duration) {
	m.latencySum.Add(int64(latency))
	m.latencyCount.Add(1)
}

// Begin marks a request as in flight. Pair every call with End.
func (m *Monitor) Begin() {
	metrics.InFlight.Set(float64(m.inFlight.Add(1)))
}

func (m *Monitor) End() {
	metrics.InFlight.Set(float64(m.inFlight.Add(-1)))
}

// SetOverride pins the level until ClearOverride
func (m *Monitor) SetOverride(l Level) {
	m.override.Store(int32(l))
	metrics.LoadLevel.Set(float64(l))
	m.logger.Warn("load level overridden", zap.Stringer("level", l))
}

func (m *Monitor) ClearOverride() {
	m.override.Store(noOverride)
	metrics.LoadLevel.Set(float64(m.level.Load()))
	m.logger.Info("load level override cleared")
}

// Snapshot is the monitor state shown to operators
type Snapshot struct {
	Level         Level   `json:"level"`
	Computed      Level   `json:"computed"`
	Override      *Level  `json:"override,omitempty"`
	LatencyMillis float64 `json:"latency_ewma_ms"`
	InFlight      int64   `json:"in_flight"`
	ProbeFailures int     `json:"probe_failures"`
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	latency := m.avg.Value()
	failures := m.probeFailures
	m.mu.Unlock()

	s := Snapshot{
		Level:         m.Level(),
		Computed:      Level(m.level.Load()),
		LatencyMillis: latency / float64(time.Millisecond),
		InFlight:      m.inFlight.Load(),
		ProbeFailures: failures,
	}
	if o := m.override.Load(); o != noOverride {
		l := Level(o)
		s.Override = &l
	}
	return s
}

// Begins periodic classification
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	m.logger.Info("starting load monitor", zap.Duration("interval", m.cfg.Interval))

	go func() {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.tick(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Stops the monitor
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		close(m.stopChan)
		m.running = false
		m.logger.Info("load monitor stopped")
	}
}

// tick folds the interval's mean latency into the moving average and
// reclassifies
func (m *Monitor) tick(ctx context.Context) {
	sum := m.latencySum.Swap(0)
	count := m.latencyCount.Swap(0)

	var sample float64
	if count > 0 {
		sample = float64(sum) / float64(count)
	}

	probeOK := true
	if m.cfg.ProbeURL != "" {
		probeOK = m.probe(ctx)
	}

	m.mu.Lock()
	if !m.primed {
		if count > 0 {
			m.avg.Set(sample)
			m.primed = true
		}
	} else {
		m.avg.Add(sample)
	}
	latency := time.Duration(m.avg.Value())

	if probeOK {
		m.probeFailures = 0
	} else {
		m.probeFailures++
	}
	upstreamDown := m.probeFailures >= m.cfg.MaxProbeFailures
	m.mu.Unlock()

	next := m.classify(latency, m.inFlight.Load(), upstreamDown)
	prev := Level(m.level.Swap(int32(next)))

	metrics.LoadLatency.Set(latency.Seconds())
	if m.override.Load() == noOverride {
		metrics.LoadLevel.Set(float64(next))
	}

	if prev != next {
		m.logger.Info("load level changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", next),
			zap.Duration("latency_ewma", latency),
			zap.Int64("in_flight", m.inFlight.Load()),
		)
	}
}

func (m *Monitor) classify(latency time.Duration, inFlight int64, upstreamDown bool) Level {
	switch {
	case upstreamDown:
		return Critical
	case m.cfg.CriticalLatency > 0 && latency >= m.cfg.CriticalLatency:
		return Critical
	case m.cfg.CriticalInFlight > 0 && inFlight >= m.cfg.CriticalInFlight:
		return Critical
	case m.cfg.ElevatedLatency > 0 && latency >= m.cfg.ElevatedLatency:
		return Elevated
	case m.cfg.ElevatedInFlight > 0 && inFlight >= m.cfg.ElevatedInFlight:
		return Elevated
	default:
		return Normal
	}
}

// Performs a health check against the upstream
func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("upstream probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	// Consider 2xx and 3xx as healthy
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

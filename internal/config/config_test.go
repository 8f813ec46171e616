package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Gate.WindowBackend)
	assert.Equal(t, "postgres", cfg.Gate.QuotaBackend)
	assert.Equal(t, "open", cfg.Gate.QuotaFailurePolicy)
	assert.Equal(t, 50*time.Millisecond, cfg.Gate.StoreTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Gate.QuotaLockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Gate.RuleRefreshInterval)
	assert.Equal(t, 80, cfg.Gate.DefaultWarningThresholdPercent)
	assert.Equal(t, time.UTC, cfg.Gate.Location())
	assert.Equal(t, "localhost:6379", cfg.Redis.GetRedisAddr())
	assert.Equal(t, "http://localhost:3001", cfg.Upstream.URL)
	assert.Equal(t, 2*time.Second, cfg.Load.ProbeTimeout)
	assert.Equal(t, 3, cfg.Load.MaxProbeFailures)
	assert.Equal(t, 30, cfg.Gate.DecisionLogRetentionDays)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"server": {"port": "9090"},
		"gate": {"window_backend": "redis", "window_algorithm": "sliding_log", "store_timeout": "20ms"},
		"load": {"elevated_latency": "100ms", "critical_latency": "400ms"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("GATE_GATE_QUOTA_FAILURE_POLICY", "closed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Gate.WindowBackend)
	assert.Equal(t, "sliding_log", cfg.Gate.WindowAlgorithm)
	assert.Equal(t, 20*time.Millisecond, cfg.Gate.StoreTimeout)
	assert.Equal(t, "closed", cfg.Gate.QuotaFailurePolicy)
	assert.Equal(t, 400*time.Millisecond, cfg.Load.CriticalLatency)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"unknown window backend": func(c *Config) { c.Gate.WindowBackend = "memcached" },
		"sliding log in memory":  func(c *Config) { c.Gate.WindowAlgorithm = "sliding_log" },
		"bad policy":             func(c *Config) { c.Gate.QuotaFailurePolicy = "maybe" },
		"bad timezone":           func(c *Config) { c.Gate.DayTimezone = "Mars/Olympus" },
		"threshold out of range": func(c *Config) { c.Gate.DefaultWarningThresholdPercent = 0 },
		"inverted latency":       func(c *Config) { c.Load.CriticalLatency = time.Millisecond },
		"lock wait over timeout": func(c *Config) { c.Gate.QuotaLockTimeout = time.Second },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

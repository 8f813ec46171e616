package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Gate     GateConfig     `mapstructure:"gate"`
	Load     LoadConfig     `mapstructure:"load"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           string `mapstructure:"port"`
	Environment    string `mapstructure:"environment"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTExpiryHours int    `mapstructure:"jwt_expiry_hours"`
	// Login attempts per second allowed from one client IP
	LoginRatePerSecond float64 `mapstructure:"login_rate_per_second"`
	LoginBurst         int     `mapstructure:"login_burst"`
}

type UpstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxFailures     int           `mapstructure:"max_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	HalfOpenSuccess int           `mapstructure:"half_open_success"`
}

type GateConfig struct {
	// "memory" or "redis"
	WindowBackend string `mapstructure:"window_backend"`
	// "sliding_counter" or "sliding_log"; sliding_log needs the redis backend
	WindowAlgorithm string `mapstructure:"window_algorithm"`
	// "memory" or "postgres"
	QuotaBackend string `mapstructure:"quota_backend"`
	// "open" or "closed"
	WindowFailurePolicy string `mapstructure:"window_failure_policy"`
	QuotaFailurePolicy  string `mapstructure:"quota_failure_policy"`

	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	// Longest single wait on one user's quota row lock before retrying
	QuotaLockTimeout    time.Duration `mapstructure:"quota_lock_timeout"`
	RuleRefreshInterval time.Duration `mapstructure:"rule_refresh_interval"`
	// IANA zone used to decide where a calendar day starts
	DayTimezone                    string `mapstructure:"day_timezone"`
	DefaultWarningThresholdPercent int    `mapstructure:"default_warning_threshold_percent"`
	// Reduction applied to synthesized tier-default rules under load. 0 disables.
	DefaultReductionPercent int `mapstructure:"default_reduction_percent"`

	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`

	DecisionLogBuffer int `mapstructure:"decision_log_buffer"`
	// Decision logs older than this many days are purged daily. 0 keeps them.
	DecisionLogRetentionDays int `mapstructure:"decision_log_retention_days"`
}

type LoadConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ElevatedLatency  time.Duration `mapstructure:"elevated_latency"`
	CriticalLatency  time.Duration `mapstructure:"critical_latency"`
	ElevatedInFlight int64         `mapstructure:"elevated_in_flight"`
	CriticalInFlight int64         `mapstructure:"critical_in_flight"`
	EWMAAge          float64       `mapstructure:"ewma_age"`
	// Upstream health endpoint; empty disables probing
	ProbeURL         string        `mapstructure:"probe_url"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	MaxProbeFailures int           `mapstructure:"max_probe_failures"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.max_connections", 0)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_expiry_hours", 24)
	v.SetDefault("auth.login_rate_per_second", 0.2)
	v.SetDefault("auth.login_burst", 5)

	v.SetDefault("upstream.url", "http://localhost:3001")
	v.SetDefault("upstream.max_failures", 5)
	v.SetDefault("upstream.breaker_timeout", "30s")
	v.SetDefault("upstream.half_open_success", 1)

	v.SetDefault("gate.window_backend", "memory")
	v.SetDefault("gate.window_algorithm", "sliding_counter")
	v.SetDefault("gate.quota_backend", "postgres")
	v.SetDefault("gate.window_failure_policy", "open")
	v.SetDefault("gate.quota_failure_policy", "open")
	v.SetDefault("gate.store_timeout", "50ms")
	v.SetDefault("gate.quota_lock_timeout", "10ms")
	v.SetDefault("gate.rule_refresh_interval", "30s")
	v.SetDefault("gate.day_timezone", "UTC")
	v.SetDefault("gate.default_warning_threshold_percent", 80)
	v.SetDefault("gate.default_reduction_percent", 0)
	v.SetDefault("gate.breaker_max_failures", 5)
	v.SetDefault("gate.breaker_timeout", "10s")
	v.SetDefault("gate.decision_log_buffer", 1000)
	v.SetDefault("gate.decision_log_retention_days", 30)

	v.SetDefault("load.interval", "1s")
	v.SetDefault("load.elevated_latency", "250ms")
	v.SetDefault("load.critical_latency", "1s")
	v.SetDefault("load.elevated_in_flight", 500)
	v.SetDefault("load.critical_in_flight", 2000)
	v.SetDefault("load.ewma_age", 10)
	v.SetDefault("load.probe_timeout", "2s")
	v.SetDefault("load.max_probe_failures", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the config file at path (JSON or YAML, by extension) and applies
// GATE_* environment overrides, e.g. GATE_REDIS_HOST or GATE_GATE_QUOTA_BACKEND.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Gate.WindowBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown gate.window_backend: %q", c.Gate.WindowBackend)
	}

	switch c.Gate.WindowAlgorithm {
	case "sliding_counter":
	case "sliding_log":
		if c.Gate.WindowBackend != "redis" {
			return fmt.Errorf("gate.window_algorithm sliding_log requires the redis window backend")
		}
	default:
		return fmt.Errorf("unknown gate.window_algorithm: %q", c.Gate.WindowAlgorithm)
	}

	switch c.Gate.QuotaBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown gate.quota_backend: %q", c.Gate.QuotaBackend)
	}

	for name, policy := range map[string]string{
		"gate.window_failure_policy": c.Gate.WindowFailurePolicy,
		"gate.quota_failure_policy":  c.Gate.QuotaFailurePolicy,
	} {
		if policy != "open" && policy != "closed" {
			return fmt.Errorf("%s must be \"open\" or \"closed\", got %q", name, policy)
		}
	}

	if _, err := time.LoadLocation(c.Gate.DayTimezone); err != nil {
		return fmt.Errorf("invalid gate.day_timezone: %w", err)
	}

	if c.Gate.DefaultWarningThresholdPercent < 1 || c.Gate.DefaultWarningThresholdPercent > 100 {
		return fmt.Errorf("gate.default_warning_threshold_percent must be within 1..100")
	}

	if c.Gate.DefaultReductionPercent < 0 || c.Gate.DefaultReductionPercent > 99 {
		return fmt.Errorf("gate.default_reduction_percent must be within 0..99")
	}

	if c.Gate.StoreTimeout > 0 && c.Gate.QuotaLockTimeout >= c.Gate.StoreTimeout {
		return fmt.Errorf("gate.quota_lock_timeout must be below gate.store_timeout")
	}

	if c.Load.CriticalLatency < c.Load.ElevatedLatency {
		return fmt.Errorf("load.critical_latency must not be below load.elevated_latency")
	}

	if c.Load.CriticalInFlight < c.Load.ElevatedInFlight {
		return fmt.Errorf("load.critical_in_flight must not be below load.elevated_in_flight")
	}

	return nil
}

// Location of the quota day boundary. Validate has already checked it loads.
func (g GateConfig) Location() *time.Location {
	loc, err := time.LoadLocation(g.DayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

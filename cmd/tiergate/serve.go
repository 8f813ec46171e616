package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/circuitbreaker"
	"github.com/aman-churiwal/tier-gate/internal/config"
	"github.com/aman-churiwal/tier-gate/internal/gate"
	"github.com/aman-churiwal/tier-gate/internal/loadmonitor"
	"github.com/aman-churiwal/tier-gate/internal/middleware"
	"github.com/aman-churiwal/tier-gate/internal/quota"
	"github.com/aman-churiwal/tier-gate/internal/ratelimit"
	"github.com/aman-churiwal/tier-gate/internal/repository"
	"github.com/aman-churiwal/tier-gate/internal/server"
	"github.com/aman-churiwal/tier-gate/internal/service"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gate in front of the upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := storage.NewPostgres(cfg.Database.DSN, cfg.Log.Level == "debug")
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to postgres")

	redis, err := connectRedis(cfg, logger)
	if err != nil {
		return err
	}
	if redis != nil {
		defer redis.Close()
	}

	windowPolicy, err := storage.ParseFailurePolicy(cfg.Gate.WindowFailurePolicy)
	if err != nil {
		return err
	}
	quotaPolicy, err := storage.ParseFailurePolicy(cfg.Gate.QuotaFailurePolicy)
	if err != nil {
		return err
	}

	// Rules
	ruleCache := ratelimit.NewRuleCache(
		repository.NewRuleLoader(repository.NewTierRepository(db), repository.NewRuleRepository(db)),
		ratelimit.RuleCacheConfig{
			Interval:         cfg.Gate.RuleRefreshInterval,
			DefaultReduction: cfg.Gate.DefaultReductionPercent,
			Logger:           logger,
		},
	)

	// Window counter
	counter, err := ratelimit.NewWindowCounter(cfg.Gate.WindowBackend, cfg.Gate.WindowAlgorithm, redis, nil)
	if err != nil {
		return err
	}
	windowBreaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "window_store",
		MaxFailures: cfg.Gate.BreakerMaxFailures,
		Timeout:     cfg.Gate.BreakerTimeout,
		Logger:      logger,
	})
	window := ratelimit.NewGuardedWindow(counter, ratelimit.GuardConfig{
		Timeout: cfg.Gate.StoreTimeout,
		Policy:  windowPolicy,
		Breaker: windowBreaker,
		Logger:  logger,
	})

	// Quota
	var quotaStore quota.Store
	switch cfg.Gate.QuotaBackend {
	case "memory":
		quotaStore = quota.NewMemoryStore()
	default:
		quotaStore = quota.NewPostgresStore(db, cfg.Gate.QuotaLockTimeout)
	}
	quotaBreaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "quota_store",
		MaxFailures: cfg.Gate.BreakerMaxFailures,
		Timeout:     cfg.Gate.BreakerTimeout,
		Logger:      logger,
	})
	tracker := quota.NewTracker(quota.Config{
		Store:            quotaStore,
		Location:         cfg.Gate.Location(),
		DefaultThreshold: cfg.Gate.DefaultWarningThresholdPercent,
		Timeout:          cfg.Gate.StoreTimeout,
		Policy:           quotaPolicy,
		Breaker:          quotaBreaker,
		Logger:           logger,
	})

	// Load
	monitor := loadmonitor.New(loadmonitor.Config{
		Interval:         cfg.Load.Interval,
		ElevatedLatency:  cfg.Load.ElevatedLatency,
		CriticalLatency:  cfg.Load.CriticalLatency,
		ElevatedInFlight: cfg.Load.ElevatedInFlight,
		CriticalInFlight: cfg.Load.CriticalInFlight,
		EWMAAge:          cfg.Load.EWMAAge,
		ProbeURL:         cfg.Load.ProbeURL,
		ProbeTimeout:     cfg.Load.ProbeTimeout,
		MaxProbeFailures: cfg.Load.MaxProbeFailures,
		Logger:           logger,
	})

	decisionLogRepo := repository.NewDecisionLogRepository(db)
	auditLog := middleware.NewDecisionLogWriter(decisionLogRepo, cfg.Gate.DecisionLogBuffer, logger)

	g := gate.New(gate.Config{
		Rules:  ruleCache,
		Window: window,
		Quota:  tracker,
		Load:   monitor,
		Audit:  auditLog,
		Logger: logger,
	})

	srv, err := server.New(cfg, server.Deps{
		Redis:    redis,
		Postgres: db,
		Gate:     g,
		Rules:    ruleCache,
		Quotas:   tracker,
		Load:     monitor,
		Breakers: []*circuitbreaker.CircuitBreaker{windowBreaker, quotaBreaker},
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// A failed first load leaves tier defaults unknown; refuse to start
	// rather than serve with an empty rule set.
	err = ruleCache.Start(ctx)
	defer ruleCache.Stop()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	monitor.Start()
	defer monitor.Stop()

	if mem, ok := counter.(*ratelimit.MemoryWindow); ok {
		mem.StartJanitor(ctx, janitorInterval)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	// The audit writer outlives the server so decisions made while draining
	// connections are still written.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()
	eg.Go(func() error {
		return auditLog.Run(auditCtx)
	})

	eg.Go(func() error {
		if err := srv.Run(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if days := cfg.Gate.DecisionLogRetentionDays; days > 0 {
		analytics := service.NewAnalyticsService(decisionLogRepo)
		eg.Go(func() error {
			purgeDecisionLogs(egCtx, analytics, days, logger)
			return nil
		})
	}

	<-egCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shut down", zap.Error(err))
	}
	stopAudit()

	return eg.Wait()
}

// connectRedis returns nil when Redis is unreachable and nothing requires it
func connectRedis(cfg *config.Config, logger *zap.Logger) (*storage.RedisClient, error) {
	redis, err := storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err == nil {
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))
		return redis, nil
	}
	if cfg.Gate.WindowBackend == ratelimit.BackendRedis {
		return nil, err
	}

	logger.Warn("redis unavailable, running without api key cache", zap.Error(err))
	return nil, nil
}

func purgeDecisionLogs(ctx context.Context, analytics *service.AnalyticsService, days int, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := analytics.CleanupOldLogs(ctx, days)
			if err != nil {
				logger.Error("failed to purge decision logs", zap.Error(err))
				continue
			}
			logger.Info("purged decision logs", zap.Int64("deleted", n))
		}
	}
}

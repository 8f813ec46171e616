package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/circuitbreaker"
	"github.com/aman-churiwal/tier-gate/internal/config"
	"github.com/aman-churiwal/tier-gate/internal/gate"
	"github.com/aman-churiwal/tier-gate/internal/handler"
	"github.com/aman-churiwal/tier-gate/internal/loadmonitor"
	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/middleware"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/proxy"
	"github.com/aman-churiwal/tier-gate/internal/quota"
	"github.com/aman-churiwal/tier-gate/internal/ratelimit"
	"github.com/aman-churiwal/tier-gate/internal/repository"
	"github.com/aman-churiwal/tier-gate/internal/service"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Deps are the long-lived components the HTTP surface is built around
type Deps struct {
	Redis    *storage.RedisClient // nil when the deployment runs without Redis
	Postgres *storage.Postgres
	Gate     *gate.Gate
	Rules    *ratelimit.RuleCache
	Quotas   *quota.Tracker
	Load     *loadmonitor.Monitor
	Breakers []*circuitbreaker.CircuitBreaker
	Logger   *zap.Logger
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Deps
	logger     *zap.Logger
	proxy      *proxy.Proxy
	apiKeys    *service.APIKeyService
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.OrNop(deps.Logger)

	p, err := proxy.New(proxy.Config{
		Target: cfg.Upstream.URL,
		CircuitBreaker: circuitbreaker.Config{
			Name:            "upstream",
			MaxFailures:     cfg.Upstream.MaxFailures,
			Timeout:         cfg.Upstream.BreakerTimeout,
			HalfOpenSuccess: cfg.Upstream.HalfOpenSuccess,
			Logger:          logger,
		},
		Load:   deps.Load,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		deps:      deps,
		logger:    logger,
		proxy:     p,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger.Named("http")))
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	db := s.deps.Postgres

	tierRepo := repository.NewTierRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	apiKeyRepo := repository.NewAPIKeyRepository(db)
	operatorRepo := repository.NewOperatorRepository(db)
	decisionLogRepo := repository.NewDecisionLogRepository(db)

	var refresher service.Refresher
	if s.deps.Rules != nil {
		refresher = s.deps.Rules
	}

	s.apiKeys = service.NewAPIKeyService(apiKeyRepo, tierRepo, s.deps.Redis, s.logger)
	tierService := service.NewTierService(tierRepo, ruleRepo, refresher, s.logger)
	authService := service.NewAuthService(operatorRepo, s.config.Auth.JWTSecret, s.config.Auth.JWTExpiryHours)
	analyticsService := service.NewAnalyticsService(decisionLogRepo)

	apiKeyHandler := handler.NewAPIKeyHandler(s.apiKeys)
	tierHandler := handler.NewTierHandler(tierService)
	authHandler := handler.NewAuthHandler(authService)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService)
	quotaHandler := handler.NewQuotaHandler(s.deps.Quotas)
	loadHandler := handler.NewLoadHandler(s.deps.Load)
	admissionHandler := handler.NewAdmissionHandler(s.deps.Gate, s.apiKeys)
	systemHandler := handler.NewSystemHandler(append(s.deps.Breakers, s.proxy.CircuitBreaker())...)

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	loginLimiter := middleware.NewLoginLimiter(s.config.Auth.LoginRatePerSecond, s.config.Auth.LoginBurst)
	requireAuth := middleware.RequireAuth(authService)

	auth := s.router.Group("/auth")
	{
		auth.POST("/login", loginLimiter.Middleware(), authHandler.Login)
		auth.GET("/me", requireAuth, authHandler.Me)
	}

	v1 := s.router.Group("/v1", requireAuth, middleware.RequireRole(models.RoleService, models.RoleAdmin))
	{
		v1.POST("/admission", admissionHandler.Decide)
	}

	admin := s.router.Group("/admin", requireAuth, middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/status", s.adminStatus)

		admin.POST("/tiers", tierHandler.CreateTier)
		admin.GET("/tiers", tierHandler.ListTiers)
		admin.GET("/tiers/:id", tierHandler.GetTier)
		admin.PUT("/tiers/:id", tierHandler.UpdateTier)
		admin.DELETE("/tiers/:id", tierHandler.DeleteTier)

		admin.POST("/tiers/:id/rules", tierHandler.CreateRule)
		admin.GET("/tiers/:id/rules", tierHandler.ListRules)
		admin.GET("/tiers/:id/rules/:rule_id", tierHandler.GetRule)
		admin.PUT("/tiers/:id/rules/:rule_id", tierHandler.UpdateRule)
		admin.DELETE("/tiers/:id/rules/:rule_id", tierHandler.DeleteRule)
		admin.POST("/rules/refresh", tierHandler.Refresh)

		admin.POST("/keys", apiKeyHandler.Create)
		admin.GET("/keys", apiKeyHandler.List)
		admin.GET("/keys/:id", apiKeyHandler.Get)
		admin.PATCH("/keys/:id", apiKeyHandler.Update)
		admin.DELETE("/keys/:id", apiKeyHandler.Delete)
		admin.PUT("/users/:user_id/tier", apiKeyHandler.ReassignTier)

		admin.GET("/quotas/:user_id", quotaHandler.Get)
		admin.POST("/quotas/:user_id/reset", quotaHandler.Reset)
		admin.PUT("/quotas/:user_id/exempt", quotaHandler.SetExempt)

		admin.GET("/load", loadHandler.Get)
		admin.PUT("/load", loadHandler.SetOverride)
		admin.DELETE("/load/override", loadHandler.ClearOverride)

		admin.GET("/analytics", analyticsHandler.GetSummary)
		admin.GET("/analytics/timeseries", analyticsHandler.GetTimeSeries)
		admin.GET("/analytics/logs", analyticsHandler.GetLogs)

		admin.GET("/system/breakers", systemHandler.CircuitBreakerStatus)
		admin.POST("/system/breakers/:name/reset", systemHandler.ResetCircuitBreaker)
	}

	// Everything else is API traffic for the upstream
	s.router.NoRoute(
		middleware.APIKeyValidator(s.apiKeys),
		middleware.Admission(s.deps.Gate, s.logger.Named("admission")),
		s.proxy.Handle,
	)
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	redisStatus := "disabled"
	redisHealthy := true
	if s.deps.Redis != nil {
		redisStatus = "up"
		if err := s.deps.Redis.Ping(ctx); err != nil {
			redisHealthy = false
			redisStatus = "down"
			s.logger.Warn("redis health check failed", zap.Error(err))
		}
	}

	dbHealthy := true
	if err := s.deps.Postgres.Ping(ctx); err != nil {
		dbHealthy = false
		s.logger.Warn("database health check failed", zap.Error(err))
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "tier-gate",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisStatus,
			"database": dbHealthy,
		},
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	snapshot := s.deps.Rules.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"gate":            "running",
		"tiers":           snapshot.Tiers(),
		"rules":           snapshot.Rules(),
		"rules_loaded_at": snapshot.LoadedAt(),
		"load":            s.deps.Load.Snapshot(),
		"uptime":          time.Since(s.startTime).Seconds(),
		"timestamp":       time.Now().Unix(),
	})
}

// Run serves until Shutdown. With server.max_connections set, accepted
// connections beyond the cap wait in the listen backlog.
func (s *Server) Run(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.config.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.Server.MaxConnections)
	}

	s.logger.Info("starting tier gate",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
		zap.String("upstream", s.config.Upstream.URL),
	)

	return s.httpServer.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

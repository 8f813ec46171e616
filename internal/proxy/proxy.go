package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/circuitbreaker"
	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errUpstream = errors.New("upstream error")

// Written when the client went away mid-request; not an upstream failure
const statusClientClosedRequest = 499

// LoadObserver receives upstream depth and latency
type LoadObserver interface {
	Begin()
	End()
	Observe(latency time.Duration)
}

type Proxy struct {
	target         *url.URL
	reverse        *httputil.ReverseProxy
	circuitBreaker *circuitbreaker.CircuitBreaker
	load           LoadObserver
	logger         *zap.Logger
}

type Config struct {
	Target         string
	CircuitBreaker circuitbreaker.Config
	Load           LoadObserver
	Logger         *zap.Logger
}

// Creates a Proxy forwarding every admitted request to one upstream
func New(cfg Config) (*Proxy, error) {
	if cfg.Target == "" {
		return nil, errors.New("upstream target is required")
	}

	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", cfg.Target)
	}

	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = "upstream"
	}
	logger := logging.OrNop(cfg.Logger).Named("proxy")

	reverse := httputil.NewSingleHostReverseProxy(target)
	reverse.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			w.WriteHeader(statusClientClosedRequest)
			return
		}
		logger.Warn("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}

	logger.Info("proxy initialized", zap.String("target", target.String()))

	return &Proxy{
		target:         target,
		reverse:        reverse,
		circuitBreaker: circuitbreaker.New(cfg.CircuitBreaker),
		load:           cfg.Load,
		logger:         logger,
	}, nil
}

// Forwards the request to the upstream
func (p *Proxy) Handle(c *gin.Context) {
	if p.load != nil {
		p.load.Begin()
		defer p.load.End()
	}

	start := time.Now()
	err := p.circuitBreaker.Call(func() error {
		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			statusCode:     http.StatusOK,
		}

		req := c.Request
		req.Header.Set("X-Forwarded-Host", req.Host)
		if clientIP := c.ClientIP(); clientIP != "" {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
		if id := c.GetString("request_id"); id != "" {
			req.Header.Set("X-Request-ID", id)
		}
		req.Host = p.target.Host

		c.Writer = recorder
		p.reverse.ServeHTTP(c.Writer, req)

		if recorder.statusCode >= 500 {
			return fmt.Errorf("%w: status %d", errUpstream, recorder.statusCode)
		}

		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		p.logger.Debug("circuit breaker open, rejecting", zap.String("path", c.Request.URL.Path))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	// Short-circuited calls never reached the upstream and tell nothing
	// about its latency.
	if p.load != nil {
		p.load.Observe(time.Since(start))
	}
}

// Returns the breaker guarding the upstream
func (p *Proxy) CircuitBreaker() *circuitbreaker.CircuitBreaker {
	return p.circuitBreaker
}

// Captures the response status code
type responseRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	return r.ResponseWriter.Write(data)
}

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const loginLimiterIdleTTL = 15 * time.Minute

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles login attempts per client IP with a token bucket
type LoginLimiter struct {
	mu       sync.Mutex
	entries  map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	lastScan time.Time
}

func NewLoginLimiter(rps float64, burst int) *LoginLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LoginLimiter{
		entries: make(map[string]*ipLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (l *LoginLimiter) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastScan) > loginLimiterIdleTTL {
		for k, ent := range l.entries {
			if now.Sub(ent.lastSeen) > loginLimiterIdleTTL {
				delete(l.entries, k)
			}
		}
		l.lastScan = now
	}

	if ent, ok := l.entries[ip]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(l.rps, l.burst)
	l.entries[ip] = &ipLimiter{lim: lim, lastSeen: now}
	return lim
}

func (l *LoginLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		r := l.get(c.ClientIP(), now).ReserveN(now, 1)
		if !r.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts"})
			return
		}

		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			secs := int64(delay / time.Second)
			if delay%time.Second != 0 {
				secs++
			}
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts"})
			return
		}

		c.Next()
	}
}

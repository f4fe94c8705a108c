package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// Idle is how long a client's limiter is kept after its last request.
	Idle time.Duration
}

// DefaultRateLimitConfig returns the default per-client limits. Body
// reads are one request per chunk, so the limits are generous.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 200,
		Burst:             400,
		Idle:              10 * time.Minute,
	}
}

// RateLimit creates a per-IP rate limiting middleware. It returns the
// middleware and a stop function for its expiry loop.
func RateLimit(cfg RateLimitConfig) (gin.HandlerFunc, func()) {
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultRateLimitConfig().Idle
	}
	clients := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](cfg.Idle),
	)
	go clients.Start()

	handler := func(c *gin.Context) {
		item, _ := clients.GetOrSet(c.ClientIP(), rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst))
		if !item.Value().Allow() {
			tooMany(c)
			return
		}
		c.Next()
	}
	return handler, clients.Stop
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			tooMany(c)
			return
		}
		c.Next()
	}
}

func tooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
		"kind":  "RateLimited",
	})
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"modelproxy/internal/apierr"
	"modelproxy/internal/ratelimit"
)

// RateLimit enforces a per-client-IP token bucket ahead of the rest of the
// chain. A limiter built with rps<=0 (ratelimit.New's contract) never
// rejects, so callers can wire this unconditionally.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	limiter.SetSweepHook(RecordRateLimitSweep)
	return func(c *gin.Context) {
		allowed := limiter.Allow(c.ClientIP())
		SetRateLimitKeyGauge(limiter.Len())
		if !allowed {
			apierr.Write(c, apierr.RateLimited("rate limit exceeded"))
			return
		}
		c.Next()
	}
}

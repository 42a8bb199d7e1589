package middleware

import (
	"fmt"
	"strconv"
	"time"

	"crm-webhook-engine/internal/observability"
	"crm-webhook-engine/internal/ratelimit"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// A nil limiter disables limiting. Store failures let the request through.
func RateLimiter(limiter *ratelimit.Limiter, group string, metrics *observability.Metrics, log zerolog.Logger) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		now := time.Now()
		key := fmt.Sprintf("%s:%s", group, extractIdentifier(c))

		d, err := limiter.Allow(c.Request.Context(), key, now)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		// Always set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			metrics.IncRateLimited(group)
			c.Header("Retry-After", strconv.FormatInt(int64(d.RetryAfter(now)/time.Second), 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys authenticated callers by tenant, others by IP.
func extractIdentifier(c *gin.Context) string {
	if tenantID, ok := TenantID(c); ok {
		return "tenant:" + tenantID.String()
	}
	return "ip:" + c.ClientIP()
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/logger"
	"github.com/lifelink/lifelink/pkg/metrics"
	"github.com/lifelink/lifelink/pkg/response"
)

// RateRule bounds how often a caller may perform one action.
type RateRule struct {
	Action string
	Limit  int
	Window time.Duration
}

// RateLimit throttles an action per authenticated user, falling back to the client IP for
// anonymous callers. Counters live in the supplied RateStore so limits hold across replicas when
// the store is shared. Store failures let the request through.
func RateLimit(store RateStore, rule RateRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || rule.Limit <= 0 || rule.Window <= 0 {
			c.Next()
			return
		}

		subject := c.GetString(CtxUserIDKey)
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}
		key := "ratelimit:" + rule.Action + ":" + subject

		count, ttl, err := store.Increment(c.Request.Context(), key, rule.Window)
		if err != nil {
			logger.Enrich(c.Request.Context(), logger.WithModule("ratelimit")).Warn("rate store unavailable, allowing request",
				zap.String("action", rule.Action),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, rule.Limit-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > rule.Limit {
			metrics.RateLimited.WithLabelValues(rule.Action).Inc()
			c.Header("Retry-After", strconv.Itoa(max(1, int(ttl.Seconds()))))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/ratelimit"
	"github.com/coursetrail/coursetrail-backend/internal/requestdata"
)

type RateLimitMiddleware struct {
	log     *logger.Logger
	limiter ratelimit.Limiter
}

func NewRateLimitMiddleware(log *logger.Logger, limiter ratelimit.Limiter) *RateLimitMiddleware {
	middlewareLog := log.With("middleware", "RateLimitMiddleware")
	return &RateLimitMiddleware{log: middlewareLog, limiter: limiter}
}

// Limit gates the route on a sliding-window check keyed by the caller's
// identity (user id when authenticated, client IP otherwise). Rejections
// carry a reset hint; clients must not retry before it.
func (rl *RateLimitMiddleware) Limit(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.ClientIP()
		if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil && rd.UserID != uuid.Nil {
			identity = rd.UserID.String()
		}

		res := rl.limiter.Check(c.Request.Context(), route, identity)
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Success {
			rl.log.Debug("request rate limited", "route", route, "identity", identity)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "rate limit exceeded",
				"remaining": 0,
				"reset_at":  res.ResetAt,
			})
			return
		}
		c.Next()
	}
}

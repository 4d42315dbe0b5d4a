package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/tradepulse/alertd/internal/userctx"
)

const HeaderUserID = "X-User-ID"

// UserRequired resolves the caller from the X-User-ID header set by the
// edge gateway and injects it into the request context.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := userctx.WithUserID(c.Request.Context(), int64(userID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// WriteRateLimit applies the shared per-user write budget. When redis is
// not configured the limiter allows everything.
func (s *Server) WriteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		userID, ok := userctx.UserIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.limiter.AllowWrite(c.Request.Context(), userID.String())
		if err != nil {
			// Redis being down must not take writes with it.
			c.Next()
			return
		}
		if result != nil && !result.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), c.FullPath())
			}
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		c.Next()
	}
}

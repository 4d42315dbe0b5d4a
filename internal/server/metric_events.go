package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradepulse/alertd/internal/userctx"
)

// PostMetricEvent nudges the scheduler to evaluate the caller's alerts
// ahead of the next sweep. Analytics posts here after metric updates.
func (s *Server) PostMetricEvent(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	userID, ok := userctx.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	s.scheduler.NotifyMetricUpdate(userID)

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"accepted": true}})
}

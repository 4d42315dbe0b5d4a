package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
)

func (s *Server) ListHistory(c *gin.Context) {
	var query alertdomain.ListHistoryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.AlertID = strings.TrimSpace(query.AlertID)

	resp, err := s.alertSvc.History(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

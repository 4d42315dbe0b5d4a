package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
)

func (s *Server) GetDeliveryProfile(c *gin.Context) {
	resp, err := s.alertSvc.GetDeliveryProfile(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PutDeliveryProfile(c *gin.Context) {
	var req alertdomain.DeliveryProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.alertSvc.UpdateDeliveryProfile(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

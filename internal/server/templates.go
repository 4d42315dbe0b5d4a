package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
)

func (s *Server) ListTemplates(c *gin.Context) {
	resp, err := s.templateSvc.List(c.Request.Context(), strings.TrimSpace(c.Query("category")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTemplateBySlug(c *gin.Context) {
	resp, err := s.templateSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("slug")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MaterializeTemplate(c *gin.Context) {
	var req templatedomain.MaterializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Slug = strings.TrimSpace(c.Param("slug"))

	resp, err := s.templateSvc.Materialize(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

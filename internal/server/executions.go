package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
)

func (s *Server) ListExecutions(c *gin.Context) {
	var req executiondomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.executionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

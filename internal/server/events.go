package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
)

func (s *Server) IngestEvent(c *gin.Context) {
	var raw ingestdomain.RawLog
	if err := c.ShouldBindJSON(&raw); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ingestSvc.Accept(c.Request.Context(), raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusAccepted
	if !resp.Accepted {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

type unwindRequest struct {
	FromBlock *uint64 `json:"from_block"`
}

func (s *Server) UnwindEvents(c *gin.Context) {
	var req unwindRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FromBlock == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.ingestSvc.Unwind(c.Request.Context(), *req.FromBlock); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unwound", "from_block": *req.FromBlock})
}

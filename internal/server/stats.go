package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
)

type globalStatsResponse struct {
	*statsdomain.GlobalStats
	DistinctUsers int64 `json:"distinct_users"`
}

func (s *Server) GetGlobalStats(c *gin.Context) {
	ctx := c.Request.Context()

	global, err := s.statsSvc.Global(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	distinct, err := s.statsSvc.DistinctUsers(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, globalStatsResponse{
		GlobalStats:   global,
		DistinctUsers: distinct,
	})
}

func (s *Server) GetDailyStats(c *gin.Context) {
	var req statsdomain.RangeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	days, err := s.statsSvc.Range(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": days})
}

func (s *Server) RebuildStats(c *gin.Context) {
	if err := s.statsSvc.Rebuild(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}

package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
)

// ChargeRateLimit throttles per user address so a single runaway collaborator
// cannot starve the charge path for everyone else.
func (s *Server) ChargeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.chargeLimiter.Enabled() {
			c.Next()
			return
		}

		var peek struct {
			UserAddress string `json:"user"`
		}
		if err := c.ShouldBindBodyWithJSON(&peek); err != nil || peek.UserAddress == "" {
			AbortWithError(c, ErrInvalidRequest)
			return
		}

		result, err := s.chargeLimiter.AllowCharge(c.Request.Context(), peek.UserAddress)
		if err != nil {
			// Redis being down must not take the charge path down with it.
			c.Next()
			return
		}
		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "charges")
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		c.Next()
	}
}

func (s *Server) CreateCharge(c *gin.Context) {
	var req permissiondomain.TryChargeRequest
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.permissionSvc.TryCharge(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

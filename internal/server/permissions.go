package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
	"github.com/permipay/permipay/pkg/types"
)

type permissionResponse struct {
	UserAddress     string       `json:"user"`
	SpendingLimit   types.Amount `json:"spending_limit"`
	SpentAmount     types.Amount `json:"spent_amount"`
	RemainingBudget types.Amount `json:"remaining_budget"`
	ExpiresAt       time.Time    `json:"expires_at"`
	IsActive        bool         `json:"is_active"`
	GrantedAt       time.Time    `json:"granted_at"`
	RevokedAt       *time.Time   `json:"revoked_at,omitempty"`
	TotalExecutions int64        `json:"total_executions"`
}

func (s *Server) GetPermission(c *gin.Context) {
	perm, err := s.permissionSvc.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPermissionResponse(perm))
}

func toPermissionResponse(perm *permissiondomain.Permission) permissionResponse {
	return permissionResponse{
		UserAddress:     perm.UserAddress,
		SpendingLimit:   perm.SpendingLimit,
		SpentAmount:     perm.SpentAmount,
		RemainingBudget: perm.RemainingBudget(),
		ExpiresAt:       perm.ExpiresAt,
		IsActive:        perm.IsActive,
		GrantedAt:       perm.GrantedAt,
		RevokedAt:       perm.RevokedAt,
		TotalExecutions: perm.TotalExecutions,
	}
}

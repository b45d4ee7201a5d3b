// Package domain contains the authoritative per-user permission state.
package domain

import (
	"time"

	"github.com/permipay/permipay/pkg/types"
)

// Permission is the mutable budget/permission projection for one user. A new
// grant supersedes the prior record in place; rows are never deleted.
type Permission struct {
	UserAddress     string       `gorm:"primaryKey;type:text" json:"user"`
	SpendingLimit   types.Amount `gorm:"type:numeric;not null" json:"spending_limit"`
	SpentAmount     types.Amount `gorm:"type:numeric;not null" json:"spent_amount"`
	ExpiresAt       time.Time    `gorm:"not null" json:"expires_at"`
	IsActive        bool         `gorm:"not null" json:"is_active"`
	GrantedAt       time.Time    `gorm:"not null" json:"granted_at"`
	RevokedAt       *time.Time   `json:"revoked_at,omitempty"`
	TotalExecutions int64        `gorm:"not null;default:0" json:"total_executions"`
	UpdatedAt       time.Time    `gorm:"not null" json:"-"`
}

// TableName sets the database table name.
func (Permission) TableName() string { return "permissions" }

// RemainingBudget derives the unspent balance. It is never persisted
// independently of SpentAmount so the two cannot drift.
func (p Permission) RemainingBudget() types.Amount {
	remaining, err := p.SpendingLimit.Sub(p.SpentAmount)
	if err != nil {
		return types.Zero()
	}
	return remaining
}

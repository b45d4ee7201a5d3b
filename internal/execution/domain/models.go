// Package domain contains the immutable execution journal records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permipay/permipay/pkg/types"
)

// ServiceExecution is one charged execution. Rows are written exactly once
// per (tx_hash, log_index) and never mutated; the journal is the source of
// truth for what happened, independent of the mutable permission projection.
type ServiceExecution struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	UserAddress          string       `gorm:"type:text;not null;index" json:"user"`
	ServiceType          ServiceType  `gorm:"not null" json:"service_type"`
	Cost                 types.Amount `gorm:"type:numeric;not null" json:"cost"`
	RemainingBudgetAfter types.Amount `gorm:"type:numeric;not null" json:"remaining_budget_after"`
	BlockNumber          uint64       `gorm:"not null;index" json:"block_number"`
	ExecutedAt           time.Time    `gorm:"not null;index" json:"executed_at"`
	TxHash               string       `gorm:"type:text;not null;uniqueIndex:ux_service_executions_event,priority:1" json:"transaction_hash"`
	LogIndex             uint32       `gorm:"not null;uniqueIndex:ux_service_executions_event,priority:2" json:"log_index"`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (ServiceExecution) TableName() string { return "service_executions" }

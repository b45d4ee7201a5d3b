// Package domain contains the canonical normalized event log. Delivery from
// the chain indexer is at-least-once; the unique (tx_hash, log_index) pair
// is what makes redelivery safe everywhere downstream.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind enumerates the three contract event shapes.
type Kind string

const (
	KindPermissionGranted Kind = "permission_granted"
	KindServiceExecuted   Kind = "service_executed"
	KindPermissionRevoked Kind = "permission_revoked"
)

// Payload keys, by kind:
//   permission_granted: spending_limit, expires_at
//   service_executed:   service_type, cost, remaining_budget
//   permission_revoked: (none)
const (
	PayloadSpendingLimit   = "spending_limit"
	PayloadExpiresAt       = "expires_at"
	PayloadServiceType     = "service_type"
	PayloadCost            = "cost"
	PayloadRemainingBudget = "remaining_budget"
)

// ChainEvent is one normalized on-chain event. Rows are append-only; the
// pipeline flips Applied exactly once per row, inside the same transaction
// as the ledger/journal/stats writes the event produces.
type ChainEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	Kind        Kind              `gorm:"type:text;not null"`
	TxHash      string            `gorm:"type:text;not null;uniqueIndex:ux_chain_events_event,priority:1"`
	LogIndex    uint32            `gorm:"not null;uniqueIndex:ux_chain_events_event,priority:2"`
	BlockNumber uint64            `gorm:"not null;index"`
	UserAddress string            `gorm:"type:text;not null;index"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	OccurredAt  time.Time         `gorm:"not null"`
	Applied     bool              `gorm:"not null;default:false;index"`
	AppliedAt   *time.Time        ``
	ApplyNote   string            `gorm:"type:text"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ChainEvent) TableName() string { return "chain_events" }

// Package domain contains derived analytics counters. Everything here is
// recomputable from the canonical event log; no field is authoritative.
package domain

import (
	"time"

	"github.com/permipay/permipay/pkg/types"
)

// GlobalStatsID is the primary key of the singleton row.
const GlobalStatsID = "global"

// GlobalStats is the process-wide counter set, persisted as a single row and
// updated only inside per-event transactions.
type GlobalStats struct {
	ID                      string       `gorm:"primaryKey;type:text" json:"-"`
	TotalPermissionsGranted int64        `gorm:"not null;default:0" json:"total_permissions_granted"`
	ActivePermissions       int64        `gorm:"not null;default:0" json:"active_permissions"`
	TotalRevenue            types.Amount `gorm:"type:numeric;not null" json:"total_revenue"`
	TotalExecutions         int64        `gorm:"not null;default:0" json:"total_executions"`
	UniqueUsers             int64        `gorm:"not null;default:0" json:"unique_users"`
	LastUpdated             time.Time    `gorm:"not null" json:"last_updated"`
}

// TableName sets the database table name.
func (GlobalStats) TableName() string { return "global_stats" }

// DailyStats is one UTC calendar day's counter set, keyed by "YYYY-MM-DD".
// One counter column exists per service kind.
type DailyStats struct {
	Date                   string       `gorm:"primaryKey;type:text" json:"date"`
	PermissionsGranted     int64        `gorm:"not null;default:0" json:"permissions_granted"`
	PermissionsRevoked     int64        `gorm:"not null;default:0" json:"permissions_revoked"`
	ServiceExecutions      int64        `gorm:"not null;default:0" json:"service_executions"`
	Revenue                types.Amount `gorm:"type:numeric;not null" json:"revenue"`
	UniqueUsers            int64        `gorm:"not null;default:0" json:"unique_users"`
	ContractInspectorCount int64        `gorm:"not null;default:0" json:"contract_inspector_count"`
	WalletReputationCount  int64        `gorm:"not null;default:0" json:"wallet_reputation_count"`
	WalletAuditCount       int64        `gorm:"not null;default:0" json:"wallet_audit_count"`
}

// TableName sets the database table name.
func (DailyStats) TableName() string { return "daily_stats" }

// SeenUser backs the exact distinct-address count. The running UniqueUsers
// counter mirrors the chain indexer and overcounts repeat grantees; this
// index is the accurate alternative.
type SeenUser struct {
	UserAddress string    `gorm:"primaryKey;type:text"`
	FirstSeenAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (SeenUser) TableName() string { return "seen_users" }

// DayKey buckets a timestamp into its UTC calendar day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

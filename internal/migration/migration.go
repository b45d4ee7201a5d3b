// Package migration creates the schema on startup so local and self-hosted
// deployments are usable out of the box.
package migration

import (
	chaineventdomain "github.com/permipay/permipay/internal/chainevent/domain"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

func Run(conn *gorm.DB) error {
	return Migrate(conn)
}

// Migrate brings the schema up to date. Also used by test databases.
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&permissiondomain.Permission{},
		&executiondomain.ServiceExecution{},
		&chaineventdomain.ChainEvent{},
		&statsdomain.GlobalStats{},
		&statsdomain.DailyStats{},
		&statsdomain.SeenUser{},
	)
}

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/permipay/permipay/internal/clock"
	"github.com/permipay/permipay/internal/config"
	"github.com/permipay/permipay/internal/execution"
	"github.com/permipay/permipay/internal/ingest"
	"github.com/permipay/permipay/internal/migration"
	"github.com/permipay/permipay/internal/observability"
	"github.com/permipay/permipay/internal/permission"
	"github.com/permipay/permipay/internal/ratelimit"
	"github.com/permipay/permipay/internal/scheduler"
	"github.com/permipay/permipay/internal/server"
	"github.com/permipay/permipay/internal/stats"
	"github.com/permipay/permipay/pkg/db"
	"github.com/permipay/permipay/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services
		permission.Module,
		execution.Module,
		stats.Module,
		ingest.Module,
		ratelimit.Module,

		// Edges
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

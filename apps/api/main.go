package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tradepulse/alertd/internal/clock"
	"github.com/tradepulse/alertd/internal/config"
	"github.com/tradepulse/alertd/internal/migration"
	"github.com/tradepulse/alertd/internal/observability"
	"github.com/tradepulse/alertd/internal/server"
	"github.com/tradepulse/alertd/pkg/db"
	"go.uber.org/fx"
)

// API-only deployment. Evaluation runs in the scheduler binary; the
// metric-events endpoint answers 503 here.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

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

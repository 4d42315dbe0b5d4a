package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tradepulse/alertd/internal/alert"
	"github.com/tradepulse/alertd/internal/clock"
	"github.com/tradepulse/alertd/internal/config"
	"github.com/tradepulse/alertd/internal/dispatch"
	"github.com/tradepulse/alertd/internal/lifecycle"
	"github.com/tradepulse/alertd/internal/marketdata"
	"github.com/tradepulse/alertd/internal/observability"
	"github.com/tradepulse/alertd/internal/providers"
	"github.com/tradepulse/alertd/internal/quota"
	"github.com/tradepulse/alertd/internal/ratelimit"
	"github.com/tradepulse/alertd/internal/realtime"
	"github.com/tradepulse/alertd/internal/scheduler"
	"github.com/tradepulse/alertd/pkg/db"
	"go.uber.org/fx"
)

// Scheduler-only deployment. No HTTP server; job locks keep replicas
// from sweeping concurrently.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		scheduler.Module,
		lifecycle.Module,
		dispatch.Module,
		providers.Module,
		realtime.Module,
		marketdata.Module,
		alert.Module,
		quota.Module,
		ratelimit.Module,
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

package template

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tradepulse/alertd/internal/clock"
	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
	"github.com/tradepulse/alertd/internal/template/repository"
	"github.com/tradepulse/alertd/internal/template/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("template.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(registerSeed),
)

type seedParam struct {
	fx.In

	LC    fx.Lifecycle
	DB    *gorm.DB
	Repo  templatedomain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

func registerSeed(p seedParam) {
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seedBuiltins(ctx, p.DB, p.Repo, p.GenID, p.Clock, p.Log.Named("template.seed"))
		},
	})
}

package quota

import (
	"github.com/tradepulse/alertd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("quota",
	fx.Provide(provideResolver),
)

func provideResolver(cfg config.Config, log *zap.Logger) Resolver {
	return NewCachedResolver(NewHTTPResolver(cfg, log), cfg.QuotaCacheTTL, log)
}

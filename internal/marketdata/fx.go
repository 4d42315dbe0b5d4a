package marketdata

import (
	"github.com/tradepulse/alertd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("marketdata",
	fx.Provide(provideSource),
)

func provideSource(cfg config.Config, log *zap.Logger) Source {
	return NewCachedSource(NewHTTPSource(cfg, log), cfg.SnapshotCacheTTL)
}

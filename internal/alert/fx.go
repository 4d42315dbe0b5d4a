package alert

import (
	"github.com/tradepulse/alertd/internal/alert/repository"
	"github.com/tradepulse/alertd/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

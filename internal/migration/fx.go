package migration

import (
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/config"
	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// sqlite and mysql deployments (and tests) rely on schema sync;
			// the versioned SQL is written for postgres.
			return conn.AutoMigrate(
				&alertdomain.Alert{},
				&alertdomain.AlertHistory{},
				&alertdomain.DeliveryProfile{},
				&templatedomain.AlertTemplate{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

package migration

import (
	"github.com/paksafinancial/taxengine/internal/config"
	"github.com/paksafinancial/taxengine/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.SeedReferenceData {
			return seed.EnsureReferenceData(conn)
		}
		return nil
	}),
)

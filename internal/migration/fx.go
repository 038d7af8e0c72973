package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/config"
	"github.com/casaops/rentledger/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, genID *snowflake.Node, log *zap.Logger) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.DefaultOrgID != 0 {
			_, err := seed.EnsureOrgWithID(context.Background(), conn, log, "Main", snowflake.ID(cfg.DefaultOrgID))
			return err
		}
		_, err := seed.EnsureOrg(context.Background(), conn, genID, log, "Main")
		return err
	}),
)

package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module applies migrations on startup. The migrator speaks postgres; other
// dialects (sqlite in tests) create schema through gorm AutoMigrate instead.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

package database

import (
	"fmt"
	"time"

	"github.com/callmonitor/courier/internal/config"
	"github.com/callmonitor/courier/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the primary store for the configured driver and optionally
// runs auto-migration.
func Connect(cfg *config.AppConfig, autoMigrate bool) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.Database)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(resolveLogLevel(cfg)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve sql db: %w", err)
	}
	if n := cfg.Database.MaxOpenConns; n > 0 {
		sqlDB.SetMaxOpenConns(n)
	}
	if n := cfg.Database.MaxIdleConns; n > 0 {
		sqlDB.SetMaxIdleConns(n)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if autoMigrate {
		if err := Migrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		return mysql.New(mysql.Config{
			DSN:               cfg.DSNValue(),
			DefaultStringSize: 191,
		}), nil
	case config.DriverPostgres:
		return postgres.Open(cfg.DSNValue()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func resolveLogLevel(cfg *config.AppConfig) logger.LogLevel {
	if cfg.IsProduction() {
		return logger.Warn
	}
	return logger.Info
}

// Migrate creates or updates the tables this service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.AuditLog{},
		&models.WebhookSubscription{},
		&models.WebhookDelivery{},
	)
}

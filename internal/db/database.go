package db

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wlink-bridge/internal/models"
)

// Open connects to the database named by dsn. A postgres:// (or postgresql://)
// DSN selects the postgres driver, anything else is treated as a sqlite file
// path, mirroring how the DATABASE_URL is interpreted elsewhere in the stack.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	gormLogLevel := gormlogger.Warn
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gormLogLevel = gormlogger.Info
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("dialect", conn.Dialector.Name()).Msg("Database connection established")
	return conn, nil
}

// Migrate runs the schema migration for the bridge's models.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&models.Tenant{}, &models.Instance{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Info().Msg("Database migration completed")
	return nil
}

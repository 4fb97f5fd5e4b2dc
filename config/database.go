package config

import (
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the connection string for the configured driver.
func (c *Config) DSN() (string, error) {
	db := c.Database
	switch db.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			db.User, db.Password, db.Host, db.Port, db.Name), nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			db.Host, db.Port, db.User, db.Password, db.Name, db.SSLMode), nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", db.Driver)
	}
}

// InitDB opens the configured database.
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	// In production, suppress SQL logs unless explicitly re-enabled via DEBUG_SQL=true.
	logLevel := logger.Info
	if cfg.IsProduction() && !cfg.Database.DebugSQL {
		logLevel = logger.Warn
	}

	gormCfg := &gorm.Config{
		Logger: logger.New(
			log.New(LogWriter, "\r\n", log.LstdFlags),
			logger.Config{LogLevel: logLevel},
		),
	}

	var dialector gorm.Dialector
	if cfg.Database.Driver == "postgres" {
		dialector = postgres.Open(dsn)
	} else {
		dialector = mysql.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Database.Driver, err)
	}
	return db, nil
}

package db

import (
	"fmt"
	"log/slog"
	"time"

	gormMySQL "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"polymarket-engine/internal/config"
)

// Open connects to the configured MySQL database and auto-migrates the
// schema. Grounded on ChoSanghyuk-blackholedex's use of gorm.io/gorm +
// gorm.io/driver/mysql for relational persistence of trading state.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*gorm.DB, error) {
	gdb, err := gorm.Open(gormMySQL.Open(cfg.DSN), &gorm.Config{
		Logger: gormLogger.New(slogWriter{logger}, gormLogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormLogger.Warn,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	return gdb, nil
}

// slogWriter adapts gorm's logger.Writer interface to log/slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.logger.Debug(fmt.Sprintf(format, args...))
}

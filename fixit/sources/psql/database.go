package psql

import (
	"context"
	"fixit/fixit/config"
	"fixit/fixit/sources/psql/models"
	"fixit/fixit/utils/logging"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	DB *gorm.DB
}

func NewDatabase(ctx context.Context, cfg config.Config) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("psql: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("psql: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("psql: ping: %w", err)
	}

	var currentDB string
	_ = db.WithContext(ctx).Raw("SELECT current_database()").Scan(&currentDB).Error
	logging.AppLogger.Info("Connected to DB", zap.String("database", currentDB))

	if err := Migrate(ctx, db); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &Database{DB: db}, nil
}

// Migrate creates or updates the usage schema.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&models.UsageRecord{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

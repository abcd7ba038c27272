package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DSN builds the MySQL data source name for one credential tier.
func DSN(cfg config.DatabaseConfig, creds config.Credentials) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		creds.User,
		creds.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)
}

// Open connects with the given credentials, retrying while the server comes up.
// Duplicate-key violations are translated to gorm.ErrDuplicatedKey.
func Open(cfg config.DatabaseConfig, creds config.Credentials) (*gorm.DB, error) {
	dsn := DSN(cfg, creds)

	var err error
	for i := 0; i < maxRetries; i++ {
		var db *gorm.DB
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  false,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			sqlDB, serr := db.DB()
			if serr == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(10)
				sqlDB.SetConnMaxLifetime(30 * time.Minute)
			}
			log.Infof("[Database] Connected to %s:%s/%s as %s", cfg.Host, cfg.Port, cfg.Name, creds.User)
			return db, nil
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, apperror.Upstream("database unavailable", err)
}

// Models lists every persisted model in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.BusinessProfile{},
		&models.InfluencerProfile{},
		&models.TokenTransaction{},
		&models.Notification{},
		&models.Campaign{},
		&models.BillingWebhookEvent{},
	}
}

// AutoMigrate creates or updates tables for development setups. Production
// schemas are managed by cmd/migrate.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

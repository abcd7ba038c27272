package database

import (
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/brandbridge/brandbridge/internal/pkg/config"
	"github.com/brandbridge/brandbridge/internal/pkg/env"
)

// OpenTestDB connects to the MySQL database named by TEST_DB_* variables,
// migrates it and truncates all tables. Tests are skipped when no server
// is reachable.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Host: env.GetEnv("TEST_DB_HOST", "127.0.0.1"),
		Port: env.GetEnv("TEST_DB_PORT", "3306"),
		Name: env.GetEnv("TEST_DB_NAME", "brandbridge_test"),
	}
	creds := config.Credentials{
		User:     env.GetEnv("TEST_DB_USER", "brandbridge"),
		Password: env.GetEnv("TEST_DB_PASSWORD", "brandbridge"),
	}

	db, err := gorm.Open(mysql.Open(DSN(cfg, creds)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err == nil {
		sqlDB, derr := db.DB()
		if derr != nil {
			err = derr
		} else {
			err = sqlDB.Ping()
		}
	}
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: database not reachable (%v)", err)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	truncateAll(t, db)
	t.Cleanup(func() {
		truncateAll(t, db)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func truncateAll(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, m := range Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			t.Fatalf("failed to parse model: %v", err)
		}
		if err := db.Exec("DELETE FROM " + stmt.Schema.Table).Error; err != nil {
			t.Fatalf("failed to truncate %s: %v", stmt.Schema.Table, err)
		}
	}
}

package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas enables cascading deletes and lets API readers run alongside the ingest writer
const sqlitePragmas = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

// Initialize creates and returns a database connection
func Initialize(dbPath string) (*gorm.DB, error) {
	return InitializeWithLogLevel(dbPath, "WARN")
}

// InitializeWithLogLevel opens the database with a gorm logger matching the application log level
func InitializeWithLogLevel(dbPath, level string) (*gorm.DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(level)),
	}

	db, err := gorm.Open(sqlite.Open(buildDSN(dbPath)), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func buildDSN(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + sqlitePragmas
	}
	return dbPath + "?" + sqlitePragmas
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logger.Info
	case "INFO", "WARN", "WARNING":
		return logger.Warn
	case "ERROR":
		return logger.Error
	case "SILENT":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Email{},
		&models.Attachment{},
		&models.EmailFilter{},
		&models.JobRun{},
		&models.Log{},
	); err != nil {
		return err
	}

	// A crash mid-run leaves job_runs rows in "running"; they stay visible as-is for diagnosis.
	return nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

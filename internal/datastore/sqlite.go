package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/voterimport/internal/conf"
)

const memoryPath = ":memory:"

func openSQLite(settings conf.SQLiteSettings, log gormlogger.Interface) (*gorm.DB, string, error) {
	path := settings.Path
	if path == "" {
		path = memoryPath
	}

	dsn := path
	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, path, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: log})
	if err != nil {
		return nil, path, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return db, path, nil
}

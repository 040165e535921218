package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sqliteDSN turns Path into a file: URI. ":memory:" or an empty path yields a shared
// in-memory database; Options are added as URI parameters and override the defaults.
func sqliteDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}

	params := url.Values{}
	params.Set("_foreign_keys", "1")
	params.Set("_busy_timeout", "5000")

	path := strings.TrimSpace(cfg.Path)
	inMemory := path == "" || strings.EqualFold(path, ":memory:")
	if inMemory {
		path = ":memory:"
		params.Set("cache", "shared")
	} else {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		params.Set("_journal_mode", "WAL")
	}
	for key, value := range cfg.Options {
		params.Set(key, value)
	}

	return "file:" + filepath.ToSlash(path) + "?" + params.Encode(), nil
}

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer at a time, otherwise concurrent transactions see "database is locked"
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// gormConfig is shared by all dialects. TranslateError maps driver unique
// violations onto gorm.ErrDuplicatedKey, which the services rely on.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
}

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		path := strings.TrimSpace(cfg.Path)
		if path == "" || strings.EqualFold(path, ":memory:") {
			dsn = "file::memory:?cache=shared&_foreign_keys=1"
		} else {
			if dir := filepath.Dir(path); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create database directory: %w", err)
				}
			}
			dsn = fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", filepath.ToSlash(path))
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	return db, nil
}

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.User == "" || cfg.Name == "" {
			return nil, errors.New("postgres configuration requires user and database name")
		}

		host, port := cfg.Host, cfg.Port
		if host == "" {
			host = "localhost"
		}
		if port == 0 {
			port = 5432
		}

		parts := []string{
			"host=" + host,
			fmt.Sprintf("port=%d", port),
			"user=" + cfg.User,
			"dbname=" + cfg.Name,
		}
		if cfg.Password != "" {
			parts = append(parts, "password="+cfg.Password)
		}

		opts := map[string]string{"sslmode": "disable"}
		for key, value := range cfg.Options {
			opts[key] = value
		}
		for _, key := range sortedKeys(opts) {
			parts = append(parts, key+"="+opts[key])
		}

		dsn = strings.Join(parts, " ")
	}

	return gorm.Open(postgres.Open(dsn), gormConfig())
}

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.User == "" || cfg.Name == "" {
			return nil, errors.New("mysql configuration requires user and database name")
		}

		host, port := cfg.Host, cfg.Port
		if host == "" {
			host = "127.0.0.1"
		}
		if port == 0 {
			port = 3306
		}

		credentials := cfg.User
		if cfg.Password != "" {
			credentials += ":" + cfg.Password
		}

		opts := map[string]string{
			"charset":   "utf8mb4",
			"parseTime": "True",
			"loc":       "UTC",
		}
		for key, value := range cfg.Options {
			opts[key] = value
		}

		pairs := make([]string, 0, len(opts))
		for _, key := range sortedKeys(opts) {
			pairs = append(pairs, key+"="+opts[key])
		}

		dsn = fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", credentials, host, port, cfg.Name, strings.Join(pairs, "&"))
	}

	return gorm.Open(mysql.Open(dsn), gormConfig())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

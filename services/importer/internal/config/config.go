package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDriver        = "postgres"
	defaultSQLitePath    = "coa.db"
	defaultImportTimeout = 60 * time.Second
	defaultUploadedBy    = "importer"
)

// Config holds runtime configuration for the importer.
type Config struct {
	DBDriver      string
	DatabaseURL   string
	SQLitePath    string
	ImportFile    string
	UploadedBy    string
	ImportTimeout time.Duration
	DryRun        bool
	AutoMigrate   bool
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.ImportFile = strings.TrimSpace(os.Getenv("IMPORT_FILE"))
	if cfg.ImportFile == "" {
		return cfg, errors.New("IMPORT_FILE is required")
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	if cfg.DBDriver == "" {
		cfg.DBDriver = defaultDriver
	}
	switch cfg.DBDriver {
	case "postgres":
		cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
		if cfg.DatabaseURL == "" {
			return cfg, errors.New("DATABASE_URL is required")
		}
	case "sqlite":
		cfg.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
		if cfg.SQLitePath == "" {
			cfg.SQLitePath = defaultSQLitePath
		}
	default:
		return cfg, fmt.Errorf("invalid DB_DRIVER: %s", cfg.DBDriver)
	}

	cfg.UploadedBy = strings.TrimSpace(os.Getenv("UPLOADED_BY"))
	if cfg.UploadedBy == "" {
		cfg.UploadedBy = defaultUploadedBy
	}

	cfg.ImportTimeout = defaultImportTimeout
	if v := strings.TrimSpace(os.Getenv("IMPORT_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid IMPORT_TIMEOUT: %w", err)
		}
		cfg.ImportTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
		}
		cfg.AutoMigrate = b
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	return cfg, nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

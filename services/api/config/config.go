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

// Config holds environment-driven settings for the REST API.
type Config struct {
	DBDriver       string
	DatabaseURL    string
	SQLitePath     string
	Port           int
	BearerToken    string
	DefaultLimit   int
	MaxUploadBytes int64
	IngestTimeout  time.Duration
	AutoMigrate    bool
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		DBDriver:       "postgres",
		SQLitePath:     "coa.db",
		Port:           8080,
		DefaultLimit:   20,
		MaxUploadBytes: 10 << 20,
		IngestTimeout:  60 * time.Second,
	}

	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.DBDriver = strings.ToLower(driver)
	}
	switch cfg.DBDriver {
	case "postgres":
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return cfg, errors.New("DATABASE_URL is required")
		}
	case "sqlite":
		if path := os.Getenv("SQLITE_PATH"); path != "" {
			cfg.SQLitePath = path
		}
	default:
		return cfg, fmt.Errorf("invalid DB_DRIVER: %s", cfg.DBDriver)
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	if limitStr := os.Getenv("API_DEFAULT_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.DefaultLimit = limit
		} else {
			return cfg, fmt.Errorf("invalid API_DEFAULT_LIMIT: %s", limitStr)
		}
	}

	if sizeStr := os.Getenv("MAX_UPLOAD_BYTES"); sizeStr != "" {
		if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil && size > 0 {
			cfg.MaxUploadBytes = size
		} else {
			return cfg, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %s", sizeStr)
		}
	}

	if timeoutStr := os.Getenv("INGEST_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			cfg.IngestTimeout = d
		} else {
			return cfg, fmt.Errorf("invalid INGEST_TIMEOUT: %s", timeoutStr)
		}
	}

	if migrateStr := os.Getenv("AUTO_MIGRATE"); migrateStr != "" {
		v, err := strconv.ParseBool(migrateStr)
		if err != nil {
			return cfg, fmt.Errorf("invalid AUTO_MIGRATE: %s", migrateStr)
		}
		cfg.AutoMigrate = v
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	return cfg, nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

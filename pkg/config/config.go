// Package config reads service settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcclellann/rentledger/pkg/clock"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr       string
	StoreDriver    string
	SQLitePath     string
	DatabaseDSN    string
	RedisAddr      string
	RedisPassword  string
	StatusCacheTTL time.Duration
	Timezone       string
	MaxRetries     int
}

// Load applies .env (if present) and then reads the environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	ttl, err := getInt("STATUS_CACHE_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	retries, err := getInt("LEDGER_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		StoreDriver:    getEnv("STORE_DRIVER", DriverSQLite),
		SQLitePath:     getEnv("SQLITE_PATH", "rentledger.db"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		StatusCacheTTL: time.Duration(ttl) * time.Second,
		Timezone:       getEnv("BUSINESS_TIMEZONE", clock.DefaultZone),
		MaxRetries:     retries,
	}

	switch cfg.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if cfg.DatabaseDSN == "" {
			return nil, errors.New("DATABASE_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("LEDGER_MAX_RETRIES must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.RedisAddr == "" {
		log.Println("[config] REDIS_ADDR not set, loan status cache disabled")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

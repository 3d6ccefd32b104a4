package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prudhvinik1/divsync/internal/models"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	ServerPort string
	LogLevel   string

	StoreBackend string
	SQLitePath   string
	DatabaseURL  string
	RedisURL     string

	CredentialFile       string
	CredentialCookieName string
	CredentialValue      string

	GraphQLURL      string
	ProbeURL        string
	TradeServiceURL string

	FeedPageSize      int
	FeedActivityTypes []string
	FeedMaxPages      int
	FreshnessWindow   time.Duration
	SnapshotTTL       time.Duration

	RemoteRatePerSecond float64
	RemoteRateBurst     int
	HTTPTimeout         time.Duration
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		StoreBackend:         strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		SQLitePath:           getEnv("SQLITE_PATH", "./divsync.db"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		CredentialFile:       os.Getenv("CREDENTIAL_FILE"),
		CredentialCookieName: getEnv("CREDENTIAL_COOKIE_NAME", "_oauth2_access_v2"),
		CredentialValue:      os.Getenv("CREDENTIAL_VALUE"),
		GraphQLURL:           getEnv("GRAPHQL_URL", "https://my.wealthsimple.com/graphql"),
		ProbeURL:             getEnv("PROBE_URL", "https://api.production.wealthsimple.com/v1/oauth/v2/token/info"),
		TradeServiceURL:      getEnv("TRADE_SERVICE_URL", "https://trade-service.wealthsimple.com"),
	}

	var err error
	if cfg.FeedPageSize, err = getEnvInt("FEED_PAGE_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.FeedMaxPages, err = getEnvInt("FEED_MAX_PAGES", 0); err != nil {
		return nil, err
	}
	if cfg.RemoteRateBurst, err = getEnvInt("REMOTE_RATE_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.RemoteRatePerSecond, err = getEnvFloat("REMOTE_RATE_PER_SECOND", 5); err != nil {
		return nil, err
	}
	if cfg.FreshnessWindow, err = getEnvDuration("FRESHNESS_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SnapshotTTL, err = getEnvDuration("SNAPSHOT_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getEnvDuration("HTTP_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}

	cfg.FeedActivityTypes = models.ExpandActivityTypes(strings.Split(getEnv("FEED_ACTIVITY_TYPES", "Dividends,Interest"), ","))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.FeedPageSize < 1 || c.FeedPageSize > 100 {
		return fmt.Errorf("FEED_PAGE_SIZE must be between 1 and 100, got %d", c.FeedPageSize)
	}
	if c.FeedMaxPages < 0 {
		return fmt.Errorf("FEED_MAX_PAGES must not be negative, got %d", c.FeedMaxPages)
	}
	if len(c.FeedActivityTypes) == 0 {
		return errors.New("FEED_ACTIVITY_TYPES must name at least one type")
	}
	if c.FreshnessWindow <= 0 || c.SnapshotTTL <= 0 || c.HTTPTimeout <= 0 {
		return errors.New("FRESHNESS_WINDOW, SNAPSHOT_TTL and HTTP_TIMEOUT must be positive")
	}
	if c.RemoteRatePerSecond < 0 || c.RemoteRateBurst < 0 {
		return errors.New("remote rate limits must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}

// Package config loads paygate runtime configuration from the environment
// and principal/fallback profiles from YAML files.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration.
type Config struct {
	LogLevel string

	// LedgerDriver selects the replay-guard backend: memory, sqlite, postgres.
	LedgerDriver string
	DatabaseURL  string
	SQLitePath   string

	// RedisAddr, when set, layers a distributed first-writer guard over the
	// ledger. Empty disables it.
	RedisAddr string

	OTLPEndpoint string
	OTelEnabled  bool

	// ProfilesDir holds profile_<name>.yaml principal/fallback profiles.
	ProfilesDir string

	PayerIdentity string
	SigningKey    string

	HTTPTimeout   time.Duration
	VerifyTimeout time.Duration
	MaxRetries    int
}

// Load reads configuration from environment variables with local defaults.
func Load() *Config {
	return &Config{
		LogLevel:      getenv("PAYGATE_LOG_LEVEL", "INFO"),
		LedgerDriver:  getenv("PAYGATE_LEDGER_DRIVER", "memory"),
		DatabaseURL:   getenv("PAYGATE_DATABASE_URL", "postgres://paygate@localhost:5432/paygate?sslmode=disable"),
		SQLitePath:    getenv("PAYGATE_SQLITE_PATH", "paygate.db"),
		RedisAddr:     os.Getenv("PAYGATE_REDIS_ADDR"),
		OTLPEndpoint:  getenv("PAYGATE_OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:   os.Getenv("PAYGATE_OTEL_ENABLED") == "true",
		ProfilesDir:   getenv("PAYGATE_PROFILES_DIR", "profiles"),
		PayerIdentity: getenv("PAYGATE_PAYER_IDENTITY", "paygate-agent"),
		SigningKey:    os.Getenv("PAYGATE_SIGNING_KEY"),
		HTTPTimeout:   getenvDuration("PAYGATE_HTTP_TIMEOUT", 30*time.Second),
		VerifyTimeout: getenvDuration("PAYGATE_VERIFY_TIMEOUT", 60*time.Second),
		MaxRetries:    getenvInt("PAYGATE_MAX_RETRIES", 3),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

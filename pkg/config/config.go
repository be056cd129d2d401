package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Log file rotation (optional, empty LogFile logs to stdout only)
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int

	// Ledger
	LedgerDriver string // "sqlite" or "postgres"
	SQLitePath   string
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string

	// Exchange adapter service
	ExchangeAdapterURL string
	ExchangeTimeout    time.Duration
	ExchangeRateLimit  float64
	ExchangeRateBurst  int
	ExchangeLimitsTTL  time.Duration

	// Market-data circuit breaker
	BreakerFailures int
	BreakerCooldown time.Duration

	// Execution
	ExecutionMode     string // "paper" or "live"
	PaperQuoteBalance float64
	PaperFeeRate      float64

	// Supervisor and runners
	ReconcileInterval time.Duration
	TickInterval      time.Duration
	StopCheckInterval time.Duration
	ErrorBackoff      time.Duration
	StopGrace         time.Duration
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		LogFile:           os.Getenv("LOG_FILE"),
		LogFileMaxSizeMB:  getIntOrDefault("LOG_FILE_MAX_SIZE_MB", 100),
		LogFileMaxBackups: getIntOrDefault("LOG_FILE_MAX_BACKUPS", 5),
		LogFileMaxAgeDays: getIntOrDefault("LOG_FILE_MAX_AGE_DAYS", 30),

		// Ledger defaults
		LedgerDriver: getEnvOrDefault("LEDGER_DRIVER", "sqlite"),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "botledger.db"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "botledger"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "botledger"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "botledger"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		// Exchange defaults
		ExchangeAdapterURL: getEnvOrDefault("EXCHANGE_ADAPTER_URL", "http://localhost:8001"),
		ExchangeTimeout:    getDurationOrDefault("EXCHANGE_TIMEOUT", 10*time.Second),
		ExchangeRateLimit:  getFloat64OrDefault("EXCHANGE_RATE_LIMIT", 10),
		ExchangeRateBurst:  getIntOrDefault("EXCHANGE_RATE_BURST", 5),
		ExchangeLimitsTTL:  getDurationOrDefault("EXCHANGE_LIMITS_TTL", time.Hour),

		BreakerFailures: getIntOrDefault("CIRCUIT_BREAKER_FAILURES", 5),
		BreakerCooldown: getDurationOrDefault("CIRCUIT_BREAKER_COOLDOWN", 30*time.Second),

		// Execution defaults
		ExecutionMode:     getEnvOrDefault("EXECUTION_MODE", "paper"),
		PaperQuoteBalance: getFloat64OrDefault("PAPER_QUOTE_BALANCE", 10000),
		PaperFeeRate:      getFloat64OrDefault("PAPER_FEE_RATE", 0.001),

		// Supervisor defaults
		ReconcileInterval: getDurationOrDefault("SUPERVISOR_RECONCILE_INTERVAL", 5*time.Second),
		TickInterval:      getDurationOrDefault("BOT_TICK_INTERVAL", 5*time.Second),
		StopCheckInterval: getDurationOrDefault("BOT_STOP_CHECK_INTERVAL", 500*time.Millisecond),
		ErrorBackoff:      getDurationOrDefault("BOT_ERROR_BACKOFF", 5*time.Second),
		StopGrace:         getDurationOrDefault("BOT_STOP_GRACE", 30*time.Second),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	switch c.LedgerDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty when LEDGER_DRIVER=sqlite")
		}
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_HOST and POSTGRES_DB are required when LEDGER_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be 'sqlite' or 'postgres', got %q", c.LedgerDriver)
	}

	if c.ExchangeAdapterURL == "" {
		return fmt.Errorf("EXCHANGE_ADAPTER_URL cannot be empty")
	}

	if c.ExchangeRateLimit <= 0 {
		return fmt.Errorf("EXCHANGE_RATE_LIMIT must be positive, got %f", c.ExchangeRateLimit)
	}

	if c.BreakerFailures <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_FAILURES must be positive, got %d", c.BreakerFailures)
	}

	if c.ExecutionMode != "paper" && c.ExecutionMode != "live" {
		return fmt.Errorf("EXECUTION_MODE must be 'paper' or 'live', got %q", c.ExecutionMode)
	}

	if c.PaperFeeRate < 0 || c.PaperFeeRate >= 1 {
		return fmt.Errorf("PAPER_FEE_RATE must be in [0, 1), got %f", c.PaperFeeRate)
	}

	durations := map[string]time.Duration{
		"SUPERVISOR_RECONCILE_INTERVAL": c.ReconcileInterval,
		"BOT_TICK_INTERVAL":             c.TickInterval,
		"BOT_STOP_CHECK_INTERVAL":       c.StopCheckInterval,
		"BOT_STOP_GRACE":                c.StopGrace,
		"EXCHANGE_TIMEOUT":              c.ExchangeTimeout,
		"CIRCUIT_BREAKER_COOLDOWN":      c.BreakerCooldown,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	if c.StopCheckInterval > c.TickInterval {
		return fmt.Errorf("BOT_STOP_CHECK_INTERVAL (%s) cannot exceed BOT_TICK_INTERVAL (%s)",
			c.StopCheckInterval, c.TickInterval)
	}

	return nil
}

// PostgresDSN returns the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPass, c.PostgresDB, c.PostgresSSL,
	)
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		HTTPPort:           "8080",
		LedgerDriver:       "sqlite",
		SQLitePath:         "test.db",
		ExchangeAdapterURL: "http://localhost:8001",
		ExchangeTimeout:    10 * time.Second,
		ExchangeRateLimit:  10,
		BreakerFailures:    5,
		BreakerCooldown:    30 * time.Second,
		ExecutionMode:      "paper",
		PaperFeeRate:       0.001,
		ReconcileInterval:  5 * time.Second,
		TickInterval:       5 * time.Second,
		StopCheckInterval:  500 * time.Millisecond,
		ErrorBackoff:       5 * time.Second,
		StopGrace:          30 * time.Second,
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.LedgerDriver != "sqlite" {
		t.Errorf("expected LedgerDriver sqlite, got %q", cfg.LedgerDriver)
	}
	if cfg.ReconcileInterval != 5*time.Second {
		t.Errorf("expected ReconcileInterval 5s, got %v", cfg.ReconcileInterval)
	}
	if cfg.StopCheckInterval != 500*time.Millisecond {
		t.Errorf("expected StopCheckInterval 500ms, got %v", cfg.StopCheckInterval)
	}
	if cfg.ExecutionMode != "paper" {
		t.Errorf("expected ExecutionMode paper, got %q", cfg.ExecutionMode)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	os.Setenv("LEDGER_DRIVER", "postgres")
	os.Setenv("BOT_TICK_INTERVAL", "2s")
	os.Setenv("EXCHANGE_RATE_LIMIT", "2.5")
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_DRIVER")
		os.Unsetenv("BOT_TICK_INTERVAL")
		os.Unsetenv("EXCHANGE_RATE_LIMIT")
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.LedgerDriver != "postgres" {
		t.Errorf("expected LedgerDriver postgres, got %q", cfg.LedgerDriver)
	}
	if cfg.TickInterval != 2*time.Second {
		t.Errorf("expected TickInterval 2s, got %v", cfg.TickInterval)
	}
	if cfg.ExchangeRateLimit != 2.5 {
		t.Errorf("expected ExchangeRateLimit 2.5, got %v", cfg.ExchangeRateLimit)
	}
}

func TestLoadFromEnv_InvalidValuesFallBack(t *testing.T) {
	os.Setenv("BOT_STOP_GRACE", "not-a-duration")
	os.Setenv("EXCHANGE_RATE_BURST", "abc")
	t.Cleanup(func() {
		os.Unsetenv("BOT_STOP_GRACE")
		os.Unsetenv("EXCHANGE_RATE_BURST")
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.StopGrace != 30*time.Second {
		t.Errorf("expected StopGrace default 30s, got %v", cfg.StopGrace)
	}
	if cfg.ExchangeRateBurst != 5 {
		t.Errorf("expected ExchangeRateBurst default 5, got %d", cfg.ExchangeRateBurst)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty_port",
			mutate:  func(c *Config) { c.HTTPPort = "" },
			wantErr: "HTTP_PORT",
		},
		{
			name:    "unknown_driver",
			mutate:  func(c *Config) { c.LedgerDriver = "mysql" },
			wantErr: "LEDGER_DRIVER",
		},
		{
			name: "postgres_without_host",
			mutate: func(c *Config) {
				c.LedgerDriver = "postgres"
				c.PostgresDB = "botledger"
			},
			wantErr: "POSTGRES_HOST",
		},
		{
			name:    "unknown_mode",
			mutate:  func(c *Config) { c.ExecutionMode = "dry-run" },
			wantErr: "EXECUTION_MODE",
		},
		{
			name:    "zero_reconcile_interval",
			mutate:  func(c *Config) { c.ReconcileInterval = 0 },
			wantErr: "SUPERVISOR_RECONCILE_INTERVAL",
		},
		{
			name:    "stop_check_longer_than_tick",
			mutate:  func(c *Config) { c.StopCheckInterval = 10 * time.Second },
			wantErr: "BOT_STOP_CHECK_INTERVAL",
		},
		{
			name:    "fee_rate_out_of_range",
			mutate:  func(c *Config) { c.PaperFeeRate = 1.5 },
			wantErr: "PAPER_FEE_RATE",
		},
		{
			name:    "zero_breaker_failures",
			mutate:  func(c *Config) { c.BreakerFailures = 0 },
			wantErr: "CIRCUIT_BREAKER_FAILURES",
		},
		{
			name:    "zero_breaker_cooldown",
			mutate:  func(c *Config) { c.BreakerCooldown = 0 },
			wantErr: "CIRCUIT_BREAKER_COOLDOWN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresHost = "db"
	cfg.PostgresPort = "5432"
	cfg.PostgresUser = "u"
	cfg.PostgresPass = "p"
	cfg.PostgresDB = "ledger"
	cfg.PostgresSSL = "disable"

	want := "host=db port=5432 user=u password=p dbname=ledger sslmode=disable"
	if got := cfg.PostgresDSN(); got != want {
		t.Errorf("PostgresDSN() = %q, want %q", got, want)
	}
}

func TestNewLogger_WithLogFile(t *testing.T) {
	path := t.TempDir() + "/botledger.log"
	os.Setenv("LOG_FILE", path)
	t.Cleanup(func() {
		os.Unsetenv("LOG_FILE")
	})

	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	logger.Info("logger-test-entry")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "logger-test-entry") {
		t.Errorf("expected log file to contain entry, got %q", string(data))
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	os.Setenv("LOG_LEVEL", "loud")
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
	})

	_, err := NewLogger()
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

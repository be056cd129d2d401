package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mselser95/botledger/internal/circuitbreaker"
	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:           "debug",
		HTTPPort:           "0",
		LedgerDriver:       "sqlite",
		SQLitePath:         filepath.Join(t.TempDir(), "app.db"),
		ExchangeAdapterURL: "http://127.0.0.1:1",
		ExchangeTimeout:    time.Second,
		ExchangeRateLimit:  10,
		ExchangeRateBurst:  1,
		ExchangeLimitsTTL:  time.Minute,
		BreakerFailures:    3,
		BreakerCooldown:    time.Second,
		ExecutionMode:      "paper",
		PaperQuoteBalance:  1000,
		PaperFeeRate:       0.001,
		ReconcileInterval:  20 * time.Millisecond,
		TickInterval:       time.Second,
		StopCheckInterval:  10 * time.Millisecond,
		ErrorBackoff:       10 * time.Millisecond,
		StopGrace:          time.Second,
	}
}

func TestNew_PaperMode(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	guarded, ok := a.exchange.(*circuitbreaker.GuardedAdapter)
	require.True(t, ok)
	_, ok = guarded.Inner().(*exchange.PaperAdapter)
	assert.True(t, ok, "paper mode should wrap the client")

	require.NoError(t, a.Shutdown())
}

func TestNew_LiveMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExecutionMode = "live"

	a, err := New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	guarded, ok := a.exchange.(*circuitbreaker.GuardedAdapter)
	require.True(t, ok)
	_, ok = guarded.Inner().(*exchange.Client)
	assert.True(t, ok)

	require.NoError(t, a.Shutdown())
}

func TestNew_BadLedgerDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.LedgerDriver = "mysql"

	_, err := New(cfg, zaptest.NewLogger(t), nil)
	require.Error(t, err)
}

func TestApp_ReadyAfterFirstReconcileAndRecoversOrphans(t *testing.T) {
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	// a bot left STOPPING by a previous process
	store, err := OpenLedger(context.Background(), cfg, logger, true)
	require.NoError(t, err)
	bot, err := store.CreateBot(context.Background(), "orphan", ledger.BotConfig{
		GlobalSettings: ledger.GlobalSettings{Exchange: "k", Symbol: "BTC/USDT"},
		Pipeline:       ledger.Pipeline{Strategy: ledger.StrategyNode{ID: "test_trading_v1"}},
	})
	require.NoError(t, err)
	require.NoError(t, store.SetBotStatus(context.Background(), bot.ID, ledger.BotStopping, ""))
	require.NoError(t, store.Close())

	a, err := New(cfg, logger, nil)
	require.NoError(t, err)

	a.startComponents()
	require.Eventually(t, a.healthChecker.IsReady, 5*time.Second, 10*time.Millisecond)

	got, err := a.store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Contains(t, got.StatusMessage, "Recovered")

	require.NoError(t, a.Shutdown())
	assert.False(t, a.healthChecker.IsReady())
}

package testutil

import (
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// D parses a decimal literal and panics on malformed input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// BotConfig builds a bot configuration for strategyID on symbol.
func BotConfig(strategyID, symbol string, params map[string]any) ledger.BotConfig {
	return ledger.BotConfig{
		GlobalSettings: ledger.GlobalSettings{
			Exchange: "test-account",
			Symbol:   symbol,
		},
		Pipeline: ledger.Pipeline{
			Strategy: ledger.StrategyNode{ID: strategyID, Params: params},
		},
	}
}

// TestBot returns an in-memory bot with the given configuration.
func TestBot(id string, cfg ledger.BotConfig) *ledger.Bot {
	return &ledger.Bot{
		ID:     id,
		Name:   "bot-" + id,
		Status: ledger.BotRunning,
		Config: cfg,
	}
}

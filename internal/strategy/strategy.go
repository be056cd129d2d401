// Package strategy holds the trading strategies a bot runner can execute.
//
// Strategies form a closed set of variants selected by the
// pipeline.strategy.id of a bot's configuration. Each instance owns the
// state of one bot and is driven from a single goroutine.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/execution"
	"github.com/mselser95/botledger/internal/ledger"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // sentinel errors
var (
	// ErrUnknownStrategy is returned by New for an unregistered strategy id.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrLiquidationExhausted is returned by OnStop when forced liquidation
	// did not fill within its retry budget.
	ErrLiquidationExhausted = errors.New("LiquidationExhausted")
)

// Kind identifies a strategy variant.
type Kind string

const (
	KindOrderflowExhaustion Kind = "orderflow_exhaustion_v1"
	KindTestTrading         Kind = "test_trading_v1"
)

// Kinds lists every registered variant.
func Kinds() []Kind {
	return []Kind{KindOrderflowExhaustion, KindTestTrading}
}

// Trader is the exchange capability a strategy trades through.
type Trader interface {
	GetBalance(ctx context.Context) ([]exchange.Balance, error)
	GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
	GetDepth(ctx context.Context, symbol string, limit int) (*exchange.Depth, error)
	GetTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error)
	PlaceOrder(ctx context.Context, req execution.OrderRequest) (*execution.OrderResult, error)
}

// TickContext is passed to every Execute and OnStop call.
type TickContext struct {
	Trader Trader
	Bot    *ledger.Bot
	Logger *zap.Logger
	Now    func() time.Time
}

func (tc *TickContext) now() time.Time {
	if tc.Now != nil {
		return tc.Now()
	}
	return time.Now()
}

// Strategy is one trading algorithm bound to one bot.
type Strategy interface {
	Kind() Kind
	// Execute runs one tick. Returned errors are recoverable.
	Execute(ctx context.Context, tc *TickContext) error
	// OnStop flattens risk before the bot stops.
	OnStop(ctx context.Context, tc *TickContext) error
}

// New builds the strategy configured for bot.
func New(bot *ledger.Bot) (Strategy, error) {
	node := bot.Config.Pipeline.Strategy
	params := Params(node.Params)

	symbol := bot.Config.GlobalSettings.Symbol
	if symbol == "" {
		return nil, fmt.Errorf("bot %s: global_settings.symbol is required", bot.ID)
	}

	switch Kind(node.ID) {
	case KindOrderflowExhaustion:
		return NewOrderflowExhaustion(symbol, params)
	case KindTestTrading:
		return NewTestTrading(symbol, params)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, node.ID)
	}
}

// Validate reports whether cfg builds a strategy.
func Validate(cfg ledger.BotConfig) error {
	_, err := New(&ledger.Bot{Config: cfg})
	return err
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/execution"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LoopState is the test trading loop state.
type LoopState string

const (
	LoopInit     LoopState = "INIT"
	LoopHolding  LoopState = "HOLDING"
	LoopFinished LoopState = "FINISHED"
)

//nolint:gochecknoglobals // sentinel errors
var (
	ErrInsufficientQuote = errors.New("insufficient quote balance")
	ErrBelowMinNotional  = errors.New("order notional below exchange minimum")
)

const testTradingPrecision = 5

// TestTrading buys a fraction of the free quote balance, holds it for a
// fixed duration, sells, and repeats for a number of loops. It exercises
// the full order path against a live or paper exchange.
type TestTrading struct {
	symbol string
	base   string
	quote  string

	allocation   decimal.Decimal
	holdDuration time.Duration
	loopCount    int
	maxRetries   int
	retryDelay   time.Duration

	state        LoopState
	loopIndex    int
	holdStart    time.Time
	boughtAmount decimal.Decimal
}

// NewTestTrading creates the strategy for symbol.
func NewTestTrading(symbol string, params Params) (*TestTrading, error) {
	r := &paramReader{params: params}
	allocation := r.float("allocation_ratio", 0.1)
	hold := seconds(r.float("hold_duration", 60))
	loops := r.int("loop_count", 5)
	retries := r.int("liquidation_max_retries", 5)
	delay := seconds(r.float("liquidation_retry_delay_sec", 1))
	if r.err != nil {
		return nil, fmt.Errorf("parse %s params: %w", KindTestTrading, r.err)
	}
	if allocation <= 0 || allocation > 1 {
		return nil, fmt.Errorf("parse %s params: allocation_ratio must be in (0, 1], got %v", KindTestTrading, allocation)
	}
	if retries <= 0 {
		return nil, fmt.Errorf("parse %s params: liquidation_max_retries must be positive", KindTestTrading)
	}

	base, quote := exchange.SplitSymbol(symbol)
	return &TestTrading{
		symbol:       symbol,
		base:         base,
		quote:        quote,
		allocation:   decimal.NewFromFloat(allocation),
		holdDuration: hold,
		loopCount:    loops,
		maxRetries:   retries,
		retryDelay:   delay,
		state:        LoopInit,
	}, nil
}

func (s *TestTrading) Kind() Kind { return KindTestTrading }

// State returns the loop state.
func (s *TestTrading) State() LoopState { return s.state }

func (s *TestTrading) Execute(ctx context.Context, tc *TickContext) error {
	switch s.state {
	case LoopFinished:
		return nil
	case LoopInit:
		return s.buy(ctx, tc)
	case LoopHolding:
		return s.sellAfterHold(ctx, tc)
	}
	return nil
}

func (s *TestTrading) buy(ctx context.Context, tc *TickContext) error {
	// a non-positive loop count repeats forever
	if s.loopCount > 0 && s.loopIndex >= s.loopCount {
		tc.Logger.Info("test-loops-finished", zap.Int("loops", s.loopIndex))
		s.state = LoopFinished
		return nil
	}

	balances, err := tc.Trader.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	spend := exchange.FreeBalance(balances, s.quote).Mul(s.allocation)
	if !spend.IsPositive() {
		return fmt.Errorf("%w: %s %s free", ErrInsufficientQuote, spend, s.quote)
	}

	ticker, err := tc.Trader.GetTicker(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("get ticker: %w", err)
	}
	if !ticker.Price.IsPositive() {
		return fmt.Errorf("get ticker: no price for %s", s.symbol)
	}

	qty := spend.Div(ticker.Price).Truncate(testTradingPrecision)
	notional := qty.Mul(ticker.Price)
	if ticker.MinNotional.IsPositive() && notional.LessThan(ticker.MinNotional) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinNotional, notional, ticker.MinNotional)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity rounds to zero", ErrInsufficientQuote)
	}

	result, err := tc.Trader.PlaceOrder(ctx, execution.OrderRequest{
		Symbol: s.symbol,
		Side:   ledger.SideBuy,
		Amount: qty,
		Reason: fmt.Sprintf("Loop %d Start", s.loopIndex),
	})
	if err != nil {
		return fmt.Errorf("place buy: %w", err)
	}
	if !result.Filled() {
		return fmt.Errorf("place buy: order %s not filled", result.LocalOrderID)
	}

	s.boughtAmount = qty
	if result.FilledQty.IsPositive() {
		s.boughtAmount = result.FilledQty
	}
	s.holdStart = tc.now()
	s.state = LoopHolding

	tc.Logger.Info("test-buy-filled",
		zap.Int("loop", s.loopIndex),
		zap.String("qty", s.boughtAmount.String()),
		zap.Duration("hold", s.holdDuration))

	return nil
}

func (s *TestTrading) sellAfterHold(ctx context.Context, tc *TickContext) error {
	elapsed := tc.now().Sub(s.holdStart)
	if elapsed < s.holdDuration {
		tc.Logger.Debug("test-holding", zap.Duration("elapsed", elapsed))
		return nil
	}

	result, err := tc.Trader.PlaceOrder(ctx, execution.OrderRequest{
		Symbol: s.symbol,
		Side:   ledger.SideSell,
		Amount: s.boughtAmount,
		Reason: "Hold Duration Elapsed",
	})
	if err != nil {
		return fmt.Errorf("place sell: %w", err)
	}
	if !result.Filled() {
		tc.Logger.Error("test-sell-not-filled", zap.String("order-id", result.LocalOrderID))
		return nil
	}

	tc.Logger.Info("test-loop-complete", zap.Int("loop", s.loopIndex))
	s.state = LoopInit
	s.loopIndex++
	s.boughtAmount = decimal.Zero
	return nil
}

// OnStop sells the held amount while HOLDING.
func (s *TestTrading) OnStop(ctx context.Context, tc *TickContext) error {
	if s.state != LoopHolding || !s.boughtAmount.IsPositive() {
		tc.Logger.Info("no-open-position", zap.String("state", string(s.state)))
		return nil
	}

	err := liquidateLong(ctx, tc, liquidation{
		kind:       KindTestTrading,
		symbol:     s.symbol,
		base:       s.base,
		tracked:    s.boughtAmount,
		maxRetries: s.maxRetries,
		retryDelay: s.retryDelay,
		reason:     "Forced Stop Liquidation",
	})
	s.state = LoopFinished
	s.boughtAmount = decimal.Zero
	return err
}

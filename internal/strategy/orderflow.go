package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/execution"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FlowState is the orderflow exhaustion state machine.
type FlowState string

const (
	StateFlat        FlowState = "FLAT"
	StateWaitConfirm FlowState = "WAIT_CONFIRM"
	StateInPosition  FlowState = "IN_POSITION"
	StateCooldown    FlowState = "COOLDOWN"
)

// Signal is the one-sided pressure that armed WAIT_CONFIRM.
type Signal string

const (
	SignalBuyPressure  Signal = "BUY_PRESSURE"
	SignalSellPressure Signal = "SELL_PRESSURE"
)

const (
	ratioEpsilon = 1e-9
	// dustQty is the largest base balance treated as flat at stop time.
	dustQty = 0.00001
)

// OrderflowParams configures OrderflowExhaustion.
type OrderflowParams struct {
	DepthLimit     int
	TradesLimit    int
	TradesLookback time.Duration

	DeltaRatioThreshold float64
	MinTotalQuoteVolume float64

	SpreadExpandRatioThreshold float64
	SweepMovePctThreshold      float64
	ConfirmAbsorptionTicks     int

	BuyAllocationRatio  float64
	SellAllocationRatio float64
	QuantityPrecision   int32

	TakeProfitPct float64
	StopLossPct   float64
	StopBufferPct float64
	TimeStop      time.Duration
	Cooldown      time.Duration

	SpreadEMAAlpha           float64
	SpreadNormalizedMaxRatio float64

	LiquidationMaxRetries int
	LiquidationRetryDelay time.Duration
}

// ParseOrderflowParams reads params over the defaults.
func ParseOrderflowParams(params Params) (OrderflowParams, error) {
	r := &paramReader{params: params}
	p := OrderflowParams{
		DepthLimit:                 r.int("depth_limit", 50),
		TradesLimit:                r.int("trades_limit", 200),
		TradesLookback:             seconds(r.float("trades_lookback_sec", 10)),
		DeltaRatioThreshold:        r.float("delta_ratio_threshold", 2.5),
		MinTotalQuoteVolume:        r.float("min_total_quote_volume", 50),
		SpreadExpandRatioThreshold: r.float("spread_expand_ratio_threshold", 1.5),
		SweepMovePctThreshold:      r.float("sweep_move_pct_threshold", 0.001),
		ConfirmAbsorptionTicks:     r.int("confirm_absorption_ticks", 2),
		BuyAllocationRatio:         r.float("buy_allocation_ratio", 0.10),
		SellAllocationRatio:        r.float("sell_allocation_ratio", 0.10),
		QuantityPrecision:          int32(r.int("quantity_precision", 5)), //nolint:gosec // small config value
		TakeProfitPct:              r.float("take_profit_pct", 0.003),
		StopLossPct:                r.float("stop_loss_pct", 0.004),
		StopBufferPct:              r.float("stop_buffer_pct", 0.001),
		TimeStop:                   seconds(r.float("time_stop_sec", 180)),
		Cooldown:                   seconds(r.float("cooldown_sec", 120)),
		SpreadEMAAlpha:             r.float("spread_ema_alpha", 0.2),
		SpreadNormalizedMaxRatio:   r.float("spread_normalized_max_ratio", 1.2),
		LiquidationMaxRetries:      r.int("liquidation_max_retries", 5),
		LiquidationRetryDelay:      seconds(r.float("liquidation_retry_delay_sec", 1)),
	}
	if r.err != nil {
		return p, r.err
	}

	switch {
	case p.DepthLimit <= 0 || p.TradesLimit <= 0:
		return p, fmt.Errorf("depth_limit and trades_limit must be positive")
	case p.SpreadEMAAlpha <= 0 || p.SpreadEMAAlpha > 1:
		return p, fmt.Errorf("spread_ema_alpha must be in (0, 1], got %v", p.SpreadEMAAlpha)
	case p.BuyAllocationRatio < 0 || p.BuyAllocationRatio > 1 || p.SellAllocationRatio < 0 || p.SellAllocationRatio > 1:
		return p, fmt.Errorf("allocation ratios must be in [0, 1]")
	case p.QuantityPrecision < 0:
		return p, fmt.Errorf("quantity_precision must not be negative")
	case p.LiquidationMaxRetries <= 0:
		return p, fmt.Errorf("liquidation_max_retries must be positive")
	}

	return p, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// OrderflowExhaustion is a contrarian fade: it waits for a one-sided
// sweep with an expanded spread, confirms that the pressure has been
// absorbed, and enters against it. SELL entries sell held base inventory.
type OrderflowExhaustion struct {
	symbol string
	base   string
	quote  string
	params OrderflowParams

	state         FlowState
	cooldownUntil time.Time

	lastMid    float64
	spreadEMA  float64
	emaSeeded  bool
	signal     Signal
	absorption int
	sweepHigh  float64
	sweepLow   float64

	positionSide ledger.Side
	positionQty  decimal.Decimal
	entryPrice   decimal.Decimal
	entryTime    time.Time
	stopPrice    decimal.Decimal
}

// NewOrderflowExhaustion creates the strategy for symbol.
func NewOrderflowExhaustion(symbol string, params Params) (*OrderflowExhaustion, error) {
	p, err := ParseOrderflowParams(params)
	if err != nil {
		return nil, fmt.Errorf("parse %s params: %w", KindOrderflowExhaustion, err)
	}

	base, quote := exchange.SplitSymbol(symbol)
	return &OrderflowExhaustion{
		symbol: symbol,
		base:   base,
		quote:  quote,
		params: p,
		state:  StateFlat,
	}, nil
}

func (s *OrderflowExhaustion) Kind() Kind { return KindOrderflowExhaustion }

// State returns the current state machine state.
func (s *OrderflowExhaustion) State() FlowState { return s.state }

// Execute runs one tick of the state machine.
func (s *OrderflowExhaustion) Execute(ctx context.Context, tc *TickContext) error {
	now := tc.now()

	if s.state == StateCooldown {
		if now.Before(s.cooldownUntil) {
			return nil
		}
		s.state = StateFlat
	}

	ticker, err := tc.Trader.GetTicker(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("get ticker: %w", err)
	}
	if !ticker.Price.IsPositive() {
		tc.Logger.Warn("ticker-unavailable", zap.String("symbol", s.symbol))
		return nil
	}

	if s.state == StateInPosition {
		return s.managePosition(ctx, tc, ticker.Price, now)
	}

	depth, err := tc.Trader.GetDepth(ctx, s.symbol, s.params.DepthLimit)
	if err != nil {
		return fmt.Errorf("get depth: %w", err)
	}
	trades, err := tc.Trader.GetTrades(ctx, s.symbol, s.params.TradesLimit)
	if err != nil {
		return fmt.Errorf("get trades: %w", err)
	}
	if !depth.BestBid.IsPositive() || !depth.BestAsk.IsPositive() {
		tc.Logger.Warn("depth-missing-top-of-book", zap.String("symbol", s.symbol))
		return nil
	}

	bid := depth.BestBid.InexactFloat64()
	ask := depth.BestAsk.InexactFloat64()
	price := ticker.Price.InexactFloat64()
	mid := (bid + ask) / 2
	spread := ask - bid

	if !s.emaSeeded {
		s.spreadEMA = spread
		s.emaSeeded = true
	} else {
		a := s.params.SpreadEMAAlpha
		s.spreadEMA = a*spread + (1-a)*s.spreadEMA
	}

	expand := 1.0
	if s.spreadEMA > 0 {
		expand = spread / s.spreadEMA
	}

	move := 0.0
	if s.lastMid > 0 {
		move = math.Abs(mid/s.lastMid - 1)
	}

	buyQuote, sellQuote := s.tradePressure(trades, now)
	if buyQuote+sellQuote < s.params.MinTotalQuoteVolume {
		s.lastMid = mid
		return nil
	}

	buyRatio := (buyQuote + ratioEpsilon) / (sellQuote + ratioEpsilon)
	sellRatio := (sellQuote + ratioEpsilon) / (buyQuote + ratioEpsilon)
	spreadExtreme := expand >= s.params.SpreadExpandRatioThreshold
	sweepMove := move >= s.params.SweepMovePctThreshold

	switch s.state {
	case StateFlat:
		switch {
		case buyRatio >= s.params.DeltaRatioThreshold && spreadExtreme && sweepMove:
			s.arm(tc, SignalBuyPressure, buyRatio, expand, move)
			s.sweepHigh = maxFloat(s.sweepHigh, ask, mid, price)
		case sellRatio >= s.params.DeltaRatioThreshold && spreadExtreme && sweepMove:
			s.arm(tc, SignalSellPressure, sellRatio, expand, move)
			s.sweepLow = minFloat(orFloat(s.sweepLow, mid), bid, mid, price)
		}
		s.lastMid = mid
		return nil

	case StateWaitConfirm:
		normalized := spread <= s.spreadEMA*s.params.SpreadNormalizedMaxRatio
		stalled := s.lastMid > 0

		switch s.signal {
		case SignalBuyPressure:
			s.sweepHigh = maxFloat(s.sweepHigh, ask, mid, price)
			if normalized && stalled && mid <= s.lastMid && buyRatio >= 1 {
				s.absorption++
			} else if s.absorption > 0 {
				s.absorption--
			}
			if s.absorption >= s.params.ConfirmAbsorptionTicks {
				err = s.enter(ctx, tc, ledger.SideSell, ticker, now,
					"Greed: orderflow exhaustion (buy pressure absorbed)")
			}

		case SignalSellPressure:
			s.sweepLow = minFloat(orFloat(s.sweepLow, mid), bid, mid, price)
			if normalized && stalled && mid >= s.lastMid && sellRatio >= 1 {
				s.absorption++
			} else if s.absorption > 0 {
				s.absorption--
			}
			if s.absorption >= s.params.ConfirmAbsorptionTicks {
				err = s.enter(ctx, tc, ledger.SideBuy, ticker, now,
					"Fear: orderflow exhaustion (sell pressure absorbed)")
			}
		}
	}

	s.lastMid = mid
	return err
}

func (s *OrderflowExhaustion) arm(tc *TickContext, signal Signal, ratio, expand, move float64) {
	s.signal = signal
	s.state = StateWaitConfirm
	s.absorption = 0
	SignalsTotal.WithLabelValues(string(KindOrderflowExhaustion), string(signal)).Inc()

	tc.Logger.Info("pressure-detected",
		zap.String("signal", string(signal)),
		zap.Float64("ratio", ratio),
		zap.Float64("spread-expand", expand),
		zap.Float64("move", move))
}

// tradePressure sums buy and sell notional of trades inside the lookback window.
func (s *OrderflowExhaustion) tradePressure(trades []exchange.Trade, now time.Time) (buyQuote, sellQuote float64) {
	cutoff := now.Add(-s.params.TradesLookback)
	for _, t := range trades {
		if t.Timestamp.Before(cutoff) {
			continue
		}
		q := t.Price.Mul(t.Amount).InexactFloat64()
		switch exchange.Side(strings.ToLower(string(t.Side))) {
		case exchange.SideBuy:
			buyQuote += q
		case exchange.SideSell:
			sellQuote += q
		}
	}
	return buyQuote, sellQuote
}

func (s *OrderflowExhaustion) enter(
	ctx context.Context,
	tc *TickContext,
	side ledger.Side,
	ticker *exchange.Ticker,
	now time.Time,
	reason string,
) error {
	label := string(KindOrderflowExhaustion)

	qty, err := s.orderQty(ctx, tc, side, ticker)
	if err != nil {
		return err
	}
	if !qty.IsPositive() {
		tc.Logger.Warn("entry-blocked",
			zap.String("side", string(side)),
			zap.String("reason", "quantity below exchange minimum"))
		EntriesTotal.WithLabelValues(label, string(side), "blocked").Inc()
		s.startCooldown(now)
		return nil
	}

	result, err := tc.Trader.PlaceOrder(ctx, execution.OrderRequest{
		Symbol: s.symbol,
		Side:   side,
		Amount: qty,
		Reason: reason,
	})
	if err != nil {
		EntriesTotal.WithLabelValues(label, string(side), "failed").Inc()
		s.startCooldown(now)
		return fmt.Errorf("place entry order: %w", err)
	}
	if !result.Filled() {
		tc.Logger.Error("entry-not-filled",
			zap.String("side", string(side)),
			zap.String("order-id", result.LocalOrderID))
		EntriesTotal.WithLabelValues(label, string(side), "not_filled").Inc()
		s.startCooldown(now)
		return nil
	}

	s.positionSide = side
	s.positionQty = qty
	if result.FilledQty.IsPositive() {
		s.positionQty = result.FilledQty
	}
	s.entryPrice = ticker.Price
	s.entryTime = now
	s.stopPrice = s.hardStop(side, ticker.Price)
	s.state = StateInPosition

	EntriesTotal.WithLabelValues(label, string(side), "filled").Inc()
	tc.Logger.Info("position-entered",
		zap.String("side", string(side)),
		zap.String("qty", s.positionQty.String()),
		zap.String("entry-price", s.entryPrice.String()),
		zap.String("stop-price", s.stopPrice.String()))

	return nil
}

// hardStop picks the more conservative of the fixed stop and the sweep extreme.
func (s *OrderflowExhaustion) hardStop(side ledger.Side, price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	loss := decimal.NewFromFloat(s.params.StopLossPct)
	buffer := decimal.NewFromFloat(s.params.StopBufferPct)

	if side == ledger.SideBuy {
		stop := price.Mul(one.Sub(loss))
		if s.sweepLow > 0 {
			stop = decimal.Min(stop, decimal.NewFromFloat(s.sweepLow).Mul(one.Sub(buffer)))
		}
		return stop
	}

	stop := price.Mul(one.Add(loss))
	if s.sweepHigh > 0 {
		stop = decimal.Max(stop, decimal.NewFromFloat(s.sweepHigh).Mul(one.Add(buffer)))
	}
	return stop
}

// orderQty sizes an entry; zero means the entry is below exchange minimums.
func (s *OrderflowExhaustion) orderQty(ctx context.Context, tc *TickContext, side ledger.Side, ticker *exchange.Ticker) (decimal.Decimal, error) {
	balances, err := tc.Trader.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}

	var qty decimal.Decimal
	if side == ledger.SideBuy {
		spend := exchange.FreeBalance(balances, s.quote).Mul(decimal.NewFromFloat(s.params.BuyAllocationRatio))
		if !spend.IsPositive() {
			return decimal.Zero, nil
		}
		qty = spend.Div(ticker.Price)
	} else {
		qty = exchange.FreeBalance(balances, s.base).Mul(decimal.NewFromFloat(s.params.SellAllocationRatio))
	}

	return sizeWithinLimits(qty, ticker, s.params.QuantityPrecision), nil
}

// sizeWithinLimits truncates qty to precision and zeroes it below the
// exchange minimum amount or notional.
func sizeWithinLimits(qty decimal.Decimal, ticker *exchange.Ticker, precision int32) decimal.Decimal {
	qty = qty.Truncate(precision)
	if !qty.IsPositive() {
		return decimal.Zero
	}
	if ticker.MinAmount.IsPositive() && qty.LessThan(ticker.MinAmount) {
		return decimal.Zero
	}
	if ticker.MinNotional.IsPositive() && qty.Mul(ticker.Price).LessThan(ticker.MinNotional) {
		return decimal.Zero
	}
	return qty
}

// managePosition checks hard stop, take profit and time stop in that order.
func (s *OrderflowExhaustion) managePosition(ctx context.Context, tc *TickContext, price decimal.Decimal, now time.Time) error {
	if s.positionSide == "" || !s.entryPrice.IsPositive() {
		s.reset(now)
		return nil
	}

	one := decimal.NewFromInt(1)
	tp := decimal.NewFromFloat(s.params.TakeProfitPct)

	if s.stopPrice.IsPositive() {
		if s.positionSide == ledger.SideBuy && price.LessThanOrEqual(s.stopPrice) {
			return s.exit(ctx, tc, "Stop Loss (hard)")
		}
		if s.positionSide == ledger.SideSell && price.GreaterThanOrEqual(s.stopPrice) {
			return s.exit(ctx, tc, "Stop Loss (hard)")
		}
	}

	if s.positionSide == ledger.SideBuy && price.GreaterThanOrEqual(s.entryPrice.Mul(one.Add(tp))) {
		return s.exit(ctx, tc, "Take Profit")
	}
	if s.positionSide == ledger.SideSell && price.LessThanOrEqual(s.entryPrice.Mul(one.Sub(tp))) {
		return s.exit(ctx, tc, "Take Profit")
	}

	if now.Sub(s.entryTime) >= s.params.TimeStop {
		return s.exit(ctx, tc, "Time Stop")
	}

	return nil
}

func (s *OrderflowExhaustion) exit(ctx context.Context, tc *TickContext, reason string) error {
	side := s.positionSide.Opposite()

	result, err := tc.Trader.PlaceOrder(ctx, execution.OrderRequest{
		Symbol: s.symbol,
		Side:   side,
		Amount: s.positionQty,
		Reason: fmt.Sprintf("%s (exit %s)", reason, side),
	})
	if err != nil {
		return fmt.Errorf("place exit order: %w", err)
	}
	if !result.Filled() {
		tc.Logger.Error("exit-not-filled",
			zap.String("reason", reason),
			zap.String("order-id", result.LocalOrderID))
		return nil
	}

	ExitsTotal.WithLabelValues(string(KindOrderflowExhaustion), reason).Inc()
	tc.Logger.Info("position-exited",
		zap.String("reason", reason),
		zap.String("side", string(side)),
		zap.String("qty", s.positionQty.String()))

	s.reset(tc.now())
	return nil
}

// OnStop liquidates a long position. A position entered by selling holds
// the quote asset already and is left as is.
func (s *OrderflowExhaustion) OnStop(ctx context.Context, tc *TickContext) error {
	defer s.reset(tc.now())

	if s.state != StateInPosition || s.positionSide == "" {
		tc.Logger.Info("no-open-position", zap.String("state", string(s.state)))
		return nil
	}

	if s.positionSide == ledger.SideSell {
		tc.Logger.Info("holding-quote-skip-buy-back",
			zap.String("quote", s.quote))
		return nil
	}

	return liquidateLong(ctx, tc, liquidation{
		kind:       KindOrderflowExhaustion,
		symbol:     s.symbol,
		base:       s.base,
		tracked:    s.positionQty,
		maxRetries: s.params.LiquidationMaxRetries,
		retryDelay: s.params.LiquidationRetryDelay,
		reason:     "Forced Stop Liquidation (Long Exit)",
	})
}

func (s *OrderflowExhaustion) startCooldown(now time.Time) {
	s.state = StateCooldown
	s.cooldownUntil = now.Add(s.params.Cooldown)
}

func (s *OrderflowExhaustion) reset(now time.Time) {
	s.startCooldown(now)
	s.signal = ""
	s.absorption = 0
	s.sweepHigh = 0
	s.sweepLow = 0
	s.positionSide = ""
	s.positionQty = decimal.Zero
	s.entryPrice = decimal.Zero
	s.entryTime = time.Time{}
	s.stopPrice = decimal.Zero
}

func maxFloat(first float64, rest ...float64) float64 {
	m := first
	for _, v := range rest {
		m = math.Max(m, v)
	}
	return m
}

func minFloat(first float64, rest ...float64) float64 {
	m := first
	for _, v := range rest {
		m = math.Min(m, v)
	}
	return m
}

func orFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/execution"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type liquidation struct {
	kind       Kind
	symbol     string
	base       string
	tracked    decimal.Decimal
	maxRetries int
	retryDelay time.Duration
	reason     string
}

// liquidateLong sells min(tracked, actual free base) with bounded retries.
// The actual balance guards against selling more than the account holds
// when the tracked quantity drifted.
func liquidateLong(ctx context.Context, tc *TickContext, l liquidation) error {
	label := string(l.kind)

	balances, err := tc.Trader.GetBalance(ctx)
	if err != nil {
		LiquidationsTotal.WithLabelValues(label, "exhausted").Inc()
		tc.Logger.Error("liquidation-balance-unavailable", zap.Bool("critical", true), zap.Error(err))
		return fmt.Errorf("%w: get balance: %w", ErrLiquidationExhausted, err)
	}

	actual := exchange.FreeBalance(balances, l.base)
	if actual.LessThanOrEqual(decimal.NewFromFloat(dustQty)) {
		LiquidationsTotal.WithLabelValues(label, "skipped").Inc()
		tc.Logger.Info("liquidation-skipped-dust",
			zap.String("asset", l.base),
			zap.String("actual", actual.String()))
		return nil
	}

	qty := actual
	if l.tracked.IsPositive() {
		qty = decimal.Min(actual, l.tracked)
	}

	tc.Logger.Warn("liquidating-long-position",
		zap.String("symbol", l.symbol),
		zap.String("qty", qty.String()),
		zap.String("tracked", l.tracked.String()),
		zap.String("actual", actual.String()))

	var lastErr error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		result, placeErr := tc.Trader.PlaceOrder(ctx, execution.OrderRequest{
			Symbol: l.symbol,
			Side:   ledger.SideSell,
			Amount: qty,
			Reason: l.reason,
		})
		if placeErr == nil && result.Filled() {
			LiquidationsTotal.WithLabelValues(label, "filled").Inc()
			tc.Logger.Info("liquidation-filled", zap.Int("attempt", attempt))
			return nil
		}

		lastErr = placeErr
		if lastErr == nil {
			lastErr = fmt.Errorf("order %s not filled", result.LocalOrderID)
		}
		tc.Logger.Warn("liquidation-attempt-failed",
			zap.Int("attempt", attempt),
			zap.Int("max-retries", l.maxRetries),
			zap.Error(lastErr))

		if attempt == l.maxRetries {
			break
		}
		err = sleep(ctx, l.retryDelay)
		if err != nil {
			lastErr = err
			break
		}
	}

	LiquidationsTotal.WithLabelValues(label, "exhausted").Inc()
	tc.Logger.Error("liquidation-exhausted",
		zap.Bool("critical", true),
		zap.String("symbol", l.symbol),
		zap.String("qty", qty.String()),
		zap.Error(lastErr))

	return fmt.Errorf("%w: selling %s %s: %w", ErrLiquidationExhausted, qty, l.base, lastErr)
}

// Package execution implements the ledger-aware order commit protocol:
// every order is recorded as an intent before it reaches the exchange and
// every confirmed fill is committed to the ledger afterwards.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// commitTimeout bounds the ledger writes after the exchange confirmed an
// order. They run detached from the caller's context.
const commitTimeout = 10 * time.Second

// Ledger is the subset of the ledger store used by the commit protocol.
type Ledger interface {
	CreateOrderIntent(ctx context.Context, intent ledger.OrderIntent) (*ledger.LocalOrder, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status ledger.OrderStatus) error
	RecordFill(ctx context.Context, localOrderID string, fill ledger.Fill) (*ledger.Execution, bool, error)
	SetBotStatusMessage(ctx context.Context, botID string, message string) error
}

// OrderRequest is a placement request issued by a strategy.
type OrderRequest struct {
	Symbol string
	Side   ledger.Side
	Amount decimal.Decimal
	Type   exchange.OrderType // market when empty
	Price  *decimal.Decimal   // limit price
	Reason string
}

// OrderResult is the outcome of a successful placement.
type OrderResult struct {
	LocalOrderID    string
	ExchangeOrderID string
	Status          ledger.OrderStatus // FILLED or SENT
	FilledQty       decimal.Decimal
	AvgPrice        decimal.Decimal
	Fee             decimal.Decimal
	Executions      []*ledger.Execution
}

// Filled reports whether the order filled immediately.
func (r *OrderResult) Filled() bool {
	return r != nil && r.Status == ledger.OrderFilled
}

// UnreconciledFill is an exchange-confirmed fill, or order status, that
// the ledger failed to record.
type UnreconciledFill struct {
	LocalOrderID    string `json:"local_order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	TradeID         string `json:"trade_id,omitempty"`
	Err             string `json:"error"`
}

// LedgerAdapter wraps an exchange adapter for one bot session.
type LedgerAdapter struct {
	exchange   exchange.Adapter
	ledger     Ledger
	botID      string
	sessionID  string
	accountRef string
	logger     *zap.Logger
	now        func() time.Time

	mu           sync.Mutex
	unreconciled []UnreconciledFill
}

// Config holds ledger adapter configuration.
type Config struct {
	Exchange   exchange.Adapter
	Ledger     Ledger
	BotID      string
	SessionID  string
	AccountRef string
	Logger     *zap.Logger
}

// NewLedgerAdapter creates a ledger-aware adapter.
func NewLedgerAdapter(cfg *Config) *LedgerAdapter {
	return &LedgerAdapter{
		exchange:   cfg.Exchange,
		ledger:     cfg.Ledger,
		botID:      cfg.BotID,
		sessionID:  cfg.SessionID,
		accountRef: cfg.AccountRef,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// AccountRef returns the exchange account the adapter trades on.
func (a *LedgerAdapter) AccountRef() string {
	return a.accountRef
}

// Unreconciled returns a copy of the fills the ledger failed to record.
func (a *LedgerAdapter) Unreconciled() []UnreconciledFill {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]UnreconciledFill, len(a.unreconciled))
	copy(out, a.unreconciled)
	return out
}

func (a *LedgerAdapter) GetBalance(ctx context.Context) ([]exchange.Balance, error) {
	return a.exchange.GetBalance(ctx, a.accountRef)
}

func (a *LedgerAdapter) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return a.exchange.GetTicker(ctx, a.accountRef, symbol)
}

func (a *LedgerAdapter) GetDepth(ctx context.Context, symbol string, limit int) (*exchange.Depth, error) {
	return a.exchange.GetDepth(ctx, a.accountRef, symbol, limit)
}

func (a *LedgerAdapter) GetTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	return a.exchange.GetTrades(ctx, a.accountRef, symbol, limit)
}

// PlaceOrder runs prepare, execute and commit for one order.
//
// Prepare failures never reach the exchange. Once the exchange confirmed
// a fill, the commit writes run on a context detached from ctx.
func (a *LedgerAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	start := time.Now()
	defer func() {
		PlaceDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	order, err := a.ledger.CreateOrderIntent(ctx, ledger.OrderIntent{
		BotID:     a.botID,
		SessionID: a.sessionID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return nil, a.fail(ctx, &Error{Kind: KindLedgerPrepareFailed, Err: err})
	}

	a.logger.Info("order-prepared",
		zap.String("order-id", order.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("amount", req.Amount.String()),
		zap.String("reason", req.Reason))

	resp, err := a.exchange.PlaceOrder(ctx, exchange.OrderRequest{
		AccountRef: a.accountRef,
		Symbol:     req.Symbol,
		Side:       exchange.Side(strings.ToLower(string(req.Side))),
		Amount:     req.Amount,
		Type:       req.Type,
		Price:      req.Price,
	})
	if err == nil && resp.Status == exchange.StatusError {
		err = fmt.Errorf("exchange rejected order: %s", resp.Error)
	}
	if err != nil {
		statusErr := a.ledger.UpdateOrderStatus(context.WithoutCancel(ctx), order.ID, ledger.OrderFailed)
		if statusErr != nil {
			a.logger.Warn("order-status-update-failed",
				zap.String("order-id", order.ID),
				zap.String("status", string(ledger.OrderFailed)),
				zap.Error(statusErr))
		}
		OrdersTotal.WithLabelValues(string(req.Side), string(ledger.OrderFailed)).Inc()
		return nil, a.fail(ctx, &Error{Kind: KindExchangeExecutionFailed, OrderID: order.ID, Err: err})
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	result := &OrderResult{
		LocalOrderID:    order.ID,
		ExchangeOrderID: resp.OrderID,
		FilledQty:       decimal.Zero,
		AvgPrice:        decimal.Zero,
		Fee:             decimal.Zero,
	}

	if resp.Status != exchange.StatusFilled {
		result.Status = ledger.OrderSent
		err = a.ledger.UpdateOrderStatus(commitCtx, order.ID, ledger.OrderSent)
		if err != nil {
			a.addUnreconciled(UnreconciledFill{
				LocalOrderID: order.ID, ExchangeOrderID: resp.OrderID, Err: err.Error(),
			})
			return nil, a.fail(ctx, &Error{Kind: KindLedgerCommitFailed, OrderID: order.ID, Err: err})
		}
		OrdersTotal.WithLabelValues(string(req.Side), string(ledger.OrderSent)).Inc()
		a.logger.Info("order-sent",
			zap.String("order-id", order.ID),
			zap.String("exchange-order-id", resp.OrderID))
		return result, nil
	}

	var commitErrs []error
	notional := decimal.Zero
	for _, fill := range fillsFromResponse(order, resp, req.Amount, a.now().UTC()) {
		exec, duplicate, recErr := a.ledger.RecordFill(commitCtx, order.ID, fill)
		if recErr != nil {
			commitErrs = append(commitErrs, fmt.Errorf("record fill %s: %w", fill.ExchangeTradeID, recErr))
			a.addUnreconciled(UnreconciledFill{
				LocalOrderID:    order.ID,
				ExchangeOrderID: resp.OrderID,
				TradeID:         fill.ExchangeTradeID,
				Err:             recErr.Error(),
			})
			continue
		}
		if duplicate {
			a.logger.Debug("fill-already-recorded", zap.String("trade-id", fill.ExchangeTradeID))
		}
		result.Executions = append(result.Executions, exec)
		result.FilledQty = result.FilledQty.Add(exec.Quantity)
		result.Fee = result.Fee.Add(exec.Fee)
		notional = notional.Add(exec.Price.Mul(exec.Quantity))
	}
	if result.FilledQty.IsPositive() {
		result.AvgPrice = notional.Div(result.FilledQty)
	}

	if len(commitErrs) == 0 {
		err = a.ledger.UpdateOrderStatus(commitCtx, order.ID, ledger.OrderFilled)
		if err != nil {
			commitErrs = append(commitErrs, fmt.Errorf("mark order filled: %w", err))
			a.addUnreconciled(UnreconciledFill{
				LocalOrderID: order.ID, ExchangeOrderID: resp.OrderID, Err: err.Error(),
			})
		}
	}

	if len(commitErrs) > 0 {
		return nil, a.fail(ctx, &Error{Kind: KindLedgerCommitFailed, OrderID: order.ID, Err: errors.Join(commitErrs...)})
	}

	result.Status = ledger.OrderFilled
	OrdersTotal.WithLabelValues(string(req.Side), string(ledger.OrderFilled)).Inc()

	a.logger.Info("order-committed",
		zap.String("order-id", order.ID),
		zap.String("exchange-order-id", resp.OrderID),
		zap.Int("fills", len(result.Executions)),
		zap.String("filled-qty", result.FilledQty.String()),
		zap.String("avg-price", result.AvgPrice.String()))

	return result, nil
}

func (a *LedgerAdapter) addUnreconciled(u UnreconciledFill) {
	a.mu.Lock()
	a.unreconciled = append(a.unreconciled, u)
	a.mu.Unlock()
	UnreconciledFillsTotal.Inc()
}

// fail records the failure on the bot and returns err.
func (a *LedgerAdapter) fail(ctx context.Context, err *Error) error {
	FailuresTotal.WithLabelValues(string(err.Kind)).Inc()

	fields := []zap.Field{
		zap.String("bot-id", a.botID),
		zap.String("kind", string(err.Kind)),
		zap.String("order-id", err.OrderID),
		zap.Error(err.Err),
	}
	if err.Critical() {
		a.logger.Error("order-commit-failed", append(fields, zap.Bool("critical", true))...)
	} else {
		a.logger.Warn("order-failed", fields...)
	}

	msgErr := a.ledger.SetBotStatusMessage(context.WithoutCancel(ctx), a.botID, fmt.Sprintf("%s: %v", err.Kind, err.Err))
	if msgErr != nil {
		a.logger.Warn("status-message-update-failed", zap.String("bot-id", a.botID), zap.Error(msgErr))
	}

	return err
}

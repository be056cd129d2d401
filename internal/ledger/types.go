package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BotStatus is the lifecycle state of a bot.
type BotStatus string

const (
	BotStopped  BotStatus = "STOPPED"
	BotBooting  BotStatus = "BOOTING"
	BotRunning  BotStatus = "RUNNING"
	BotStopping BotStatus = "STOPPING"
)

// ActiveStatuses are the statuses the supervisor reconciles against.
var ActiveStatuses = []BotStatus{BotRunning, BotBooting, BotStopping} //nolint:gochecknoglobals // read-only

// Valid reports whether s is a known bot status.
func (s BotStatus) Valid() bool {
	switch s {
	case BotStopped, BotBooting, BotRunning, BotStopping:
		return true
	}
	return false
}

// SessionStatus is the state of one bot execution epoch.
type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionEnded   SessionStatus = "ENDED"
	SessionCrashed SessionStatus = "CRASHED"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the state of a local order intent.
type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderSent    OrderStatus = "SENT"
	OrderFilled  OrderStatus = "FILLED"
	OrderFailed  OrderStatus = "FAILED"
)

// Bot is a configured trading bot.
type Bot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        BotStatus `json:"status"`
	StatusMessage string    `json:"status_message,omitempty"`
	Config        BotConfig `json:"config"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BotConfig is the strategy configuration stored with a bot.
type BotConfig struct {
	GlobalSettings GlobalSettings `json:"global_settings" yaml:"global_settings"`
	Pipeline       Pipeline       `json:"pipeline" yaml:"pipeline"`
}

// GlobalSettings holds exchange account and market selection.
type GlobalSettings struct {
	// Exchange is the exchange-adapter key id used to trade.
	Exchange  string `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	AccountID string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Symbol    string `json:"symbol" yaml:"symbol"`
}

// Pipeline wraps the strategy node.
type Pipeline struct {
	Strategy StrategyNode `json:"strategy" yaml:"strategy"`
}

// StrategyNode selects a strategy and its parameters.
type StrategyNode struct {
	ID     string         `json:"id" yaml:"id"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// AccountRef returns the exchange key id, falling back to AccountID.
func (c BotConfig) AccountRef() string {
	if c.GlobalSettings.Exchange != "" {
		return c.GlobalSettings.Exchange
	}
	return c.GlobalSettings.AccountID
}

// SessionSummary is the cached, rebuildable projection of a session's executions.
type SessionSummary struct {
	TotalPnL   decimal.Decimal `json:"total_pnl"`
	TradeCount int             `json:"trade_count"`
	WinCount   int             `json:"win_count"`
	WinRate    decimal.Decimal `json:"win_rate"`
	TotalFees  decimal.Decimal `json:"total_fees"`
}

// Apply folds one committed execution into the summary.
// Fees always accumulate; pnl only counts as a trade when non-zero.
func (s *SessionSummary) Apply(realizedPnL, fee decimal.Decimal) {
	s.TotalFees = s.TotalFees.Add(fee)
	if realizedPnL.IsZero() {
		return
	}
	s.TotalPnL = s.TotalPnL.Add(realizedPnL)
	s.TradeCount++
	if realizedPnL.IsPositive() {
		s.WinCount++
	}
	s.WinRate = decimal.NewFromInt(int64(s.WinCount)).Div(decimal.NewFromInt(int64(s.TradeCount)))
}

// Session is one start-to-stop epoch of a bot.
type Session struct {
	ID        string         `json:"id"`
	BotID     string         `json:"bot_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Status    SessionStatus  `json:"status"`
	Summary   SessionSummary `json:"summary"`
}

// LocalOrder is the durable record of an order intent.
type LocalOrder struct {
	ID        string          `json:"id"`
	BotID     string          `json:"bot_id"`
	SessionID string          `json:"session_id,omitempty"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Status    OrderStatus     `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OrderIntent is the input of CreateOrderIntent.
type OrderIntent struct {
	BotID     string
	SessionID string
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	Reason    string
}

// Fill is one confirmed exchange fill to be recorded.
type Fill struct {
	ExchangeTradeID string
	ExchangeOrderID string
	OrderListID     string
	Symbol          string
	Side            Side
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	QuoteQty        decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
	Timestamp       time.Time
}

// Execution is a recorded fill keyed by the exchange trade id.
type Execution struct {
	ID              string          `json:"id"`
	LocalOrderID    string          `json:"local_order_id"`
	BotID           string          `json:"bot_id"`
	SessionID       string          `json:"session_id,omitempty"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	OrderListID     string          `json:"order_list_id,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	QuoteQty        decimal.Decimal `json:"quote_qty"`
	Fee             decimal.Decimal `json:"fee"`
	FeeAsset        string          `json:"fee_asset,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	RemainingQty    decimal.Decimal `json:"remaining_qty"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UnmatchedQty    decimal.Decimal `json:"unmatched_qty"`
}

// OrderWithExecutions is a session detail row.
type OrderWithExecutions struct {
	LocalOrder
	Executions []Execution `json:"executions"`
}

// Position is the signed net quantity held for a symbol.
type Position struct {
	Symbol string          `json:"symbol"`
	NetQty decimal.Decimal `json:"net_qty"`
}

// Package exchange is the boundary to the exchange-adapter service: the
// Adapter capability consumed by the commit protocol and strategies, an HTTP
// client for the live service, and an in-memory paper adapter.
package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultQuoteAsset is assumed when a symbol has no "/QUOTE" part.
const DefaultQuoteAsset = "USDT"

// ErrInsufficientBalance is returned by the paper adapter when an order cannot be funded.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Side is the wire order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the wire order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the normalized placement outcome.
type OrderStatus string

const (
	StatusFilled OrderStatus = "filled"
	StatusSent   OrderStatus = "sent"
	StatusError  OrderStatus = "error"
)

// Balance is one asset balance of an account.
type Balance struct {
	Asset        string          `json:"asset"`
	Free         decimal.Decimal `json:"free"`
	Locked       decimal.Decimal `json:"locked"`
	ValueInQuote decimal.Decimal `json:"value_in_quote"`
}

// Ticker is the last price with exchange order limits.
type Ticker struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	MinNotional decimal.Decimal `json:"min_notional"`
	MinAmount   decimal.Decimal `json:"min_amount"`
}

// Level is one order book price level.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// Depth is an order book snapshot.
type Depth struct {
	Symbol  string          `json:"symbol"`
	BestBid decimal.Decimal `json:"best_bid"`
	BestAsk decimal.Decimal `json:"best_ask"`
	Bids    []Level         `json:"bids"`
	Asks    []Level         `json:"asks"`
}

// Trade is one public trade print.
type Trade struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Side      Side            `json:"side"`
}

// OrderRequest is a placement request.
type OrderRequest struct {
	AccountRef string
	Symbol     string
	Side       Side
	Amount     decimal.Decimal
	Type       OrderType
	Price      *decimal.Decimal
}

// Fill is one granular fill of an order.
type Fill struct {
	TradeID         string
	Price           decimal.Decimal
	Qty             decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
}

// OrderResponse is the normalized result of a placement.
type OrderResponse struct {
	Status       OrderStatus
	OrderID      string
	OrderListID  string
	Side         Side
	AveragePrice decimal.Decimal
	Price        decimal.Decimal
	Filled       decimal.Decimal
	Cost         decimal.Decimal
	Fee          decimal.Decimal
	FeeAsset     string
	TransactTime time.Time
	Fills        []Fill
	Error        string
}

// Adapter is the trading capability of the exchange-access layer.
type Adapter interface {
	GetBalance(ctx context.Context, accountRef string) ([]Balance, error)
	GetTicker(ctx context.Context, accountRef, symbol string) (*Ticker, error)
	GetDepth(ctx context.Context, accountRef, symbol string, limit int) (*Depth, error)
	GetTrades(ctx context.Context, accountRef, symbol string, limit int) ([]Trade, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
}

// SplitSymbol splits "BASE/QUOTE", defaulting the quote asset.
func SplitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) == 2 && parts[1] != "" {
		return parts[0], parts[1]
	}
	return parts[0], DefaultQuoteAsset
}

// FreeBalance returns the free amount of asset, zero if absent.
func FreeBalance(balances []Balance, asset string) decimal.Decimal {
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free
		}
	}
	return decimal.Zero
}

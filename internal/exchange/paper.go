package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketData is the read side of an Adapter.
type MarketData interface {
	GetTicker(ctx context.Context, accountRef, symbol string) (*Ticker, error)
	GetDepth(ctx context.Context, accountRef, symbol string, limit int) (*Depth, error)
	GetTrades(ctx context.Context, accountRef, symbol string, limit int) ([]Trade, error)
}

// PaperAdapter simulates order placement against live market data. Each
// account starts with QuoteBalance of the quote asset.
type PaperAdapter struct {
	source       MarketData
	quoteBalance decimal.Decimal
	feeRate      decimal.Decimal
	logger       *zap.Logger
	now          func() time.Time

	mu       sync.Mutex
	accounts map[string]map[string]decimal.Decimal
}

// PaperConfig holds paper adapter configuration.
type PaperConfig struct {
	Source       MarketData
	QuoteBalance decimal.Decimal
	FeeRate      decimal.Decimal
	Logger       *zap.Logger
}

// NewPaperAdapter creates a paper trading adapter.
func NewPaperAdapter(cfg *PaperConfig) *PaperAdapter {
	return &PaperAdapter{
		source:       cfg.Source,
		quoteBalance: cfg.QuoteBalance,
		feeRate:      cfg.FeeRate,
		logger:       cfg.Logger,
		now:          time.Now,
		accounts:     make(map[string]map[string]decimal.Decimal),
	}
}

// SetBalance overrides the free balance of asset for an account.
func (p *PaperAdapter) SetBalance(accountRef, asset string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account(accountRef)[asset] = amount
}

// account must be called with mu held.
func (p *PaperAdapter) account(accountRef string) map[string]decimal.Decimal {
	acc, ok := p.accounts[accountRef]
	if !ok {
		acc = map[string]decimal.Decimal{DefaultQuoteAsset: p.quoteBalance}
		p.accounts[accountRef] = acc
	}
	return acc
}

// GetBalance returns the simulated balances, sorted by asset.
func (p *PaperAdapter) GetBalance(_ context.Context, accountRef string) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.account(accountRef)
	balances := make([]Balance, 0, len(acc))
	for asset, free := range acc {
		b := Balance{Asset: asset, Free: free, Locked: decimal.Zero}
		if asset == DefaultQuoteAsset {
			b.ValueInQuote = free
		}
		balances = append(balances, b)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Asset < balances[j].Asset })
	return balances, nil
}

func (p *PaperAdapter) GetTicker(ctx context.Context, accountRef, symbol string) (*Ticker, error) {
	return p.source.GetTicker(ctx, accountRef, symbol)
}

func (p *PaperAdapter) GetDepth(ctx context.Context, accountRef, symbol string, limit int) (*Depth, error) {
	return p.source.GetDepth(ctx, accountRef, symbol, limit)
}

func (p *PaperAdapter) GetTrades(ctx context.Context, accountRef, symbol string, limit int) ([]Trade, error) {
	return p.source.GetTrades(ctx, accountRef, symbol, limit)
}

// PlaceOrder fills market orders, and marketable limit orders, at the
// ticker price. Fees are charged in the quote asset. A resting limit order
// is reported as sent and never fills.
func (p *PaperAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", req.Amount)
	}

	ticker, err := p.source.GetTicker(ctx, req.AccountRef, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("get ticker: %w", err)
	}
	price := ticker.Price
	if !price.IsPositive() {
		return nil, fmt.Errorf("no price for %s", req.Symbol)
	}

	orderID := uuid.New().String()

	if req.Type == OrderTypeLimit && req.Price != nil {
		marketable := (req.Side == SideBuy && req.Price.GreaterThanOrEqual(price)) ||
			(req.Side == SideSell && req.Price.LessThanOrEqual(price))
		if !marketable {
			PaperOrdersTotal.WithLabelValues(string(req.Side), string(StatusSent)).Inc()
			return &OrderResponse{
				Status:  StatusSent,
				OrderID: orderID,
				Side:    req.Side,
				Price:   *req.Price,
				Filled:  decimal.Zero,
			}, nil
		}
	}

	base, quote := SplitSymbol(req.Symbol)
	notional := price.Mul(req.Amount)
	fee := notional.Mul(p.feeRate)

	p.mu.Lock()
	acc := p.account(req.AccountRef)
	switch req.Side {
	case SideBuy:
		need := notional.Add(fee)
		if acc[quote].LessThan(need) {
			p.mu.Unlock()
			PaperOrdersTotal.WithLabelValues(string(req.Side), string(StatusError)).Inc()
			return nil, fmt.Errorf("buy %s %s: need %s %s: %w", req.Amount, base, need, quote, ErrInsufficientBalance)
		}
		acc[quote] = acc[quote].Sub(need)
		acc[base] = acc[base].Add(req.Amount)
	case SideSell:
		if acc[base].LessThan(req.Amount) {
			p.mu.Unlock()
			PaperOrdersTotal.WithLabelValues(string(req.Side), string(StatusError)).Inc()
			return nil, fmt.Errorf("sell %s %s: have %s: %w", req.Amount, base, acc[base], ErrInsufficientBalance)
		}
		acc[base] = acc[base].Sub(req.Amount)
		acc[quote] = acc[quote].Add(notional.Sub(fee))
	default:
		p.mu.Unlock()
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	p.mu.Unlock()

	PaperOrdersTotal.WithLabelValues(string(req.Side), string(StatusFilled)).Inc()

	p.logger.Info("paper-order-filled",
		zap.String("order-id", orderID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("amount", req.Amount.String()),
		zap.String("price", price.String()),
		zap.String("fee", fee.String()))

	return &OrderResponse{
		Status:       StatusFilled,
		OrderID:      orderID,
		Side:         req.Side,
		AveragePrice: price,
		Price:        price,
		Filled:       req.Amount,
		Cost:         notional,
		Fee:          fee,
		FeeAsset:     quote,
		TransactTime: p.now().UTC(),
		Fills: []Fill{{
			TradeID:         uuid.New().String(),
			Price:           price,
			Qty:             req.Amount,
			Commission:      fee,
			CommissionAsset: quote,
		}},
	}, nil
}

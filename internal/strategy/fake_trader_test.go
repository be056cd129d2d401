package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/execution"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type fakeTrader struct {
	balances   []exchange.Balance
	ticker     exchange.Ticker
	depth      exchange.Depth
	trades     []exchange.Trade
	orders     []execution.OrderRequest
	fillOrders bool
	placeErr   error
	balanceErr error
}

func newFakeTrader() *fakeTrader {
	return &fakeTrader{
		ticker:     exchange.Ticker{Symbol: "BTC/USDT", Price: d("100")},
		fillOrders: true,
	}
}

func (f *fakeTrader) setBalance(asset, free string) {
	for i := range f.balances {
		if f.balances[i].Asset == asset {
			f.balances[i].Free = d(free)
			return
		}
	}
	f.balances = append(f.balances, exchange.Balance{Asset: asset, Free: d(free)})
}

func (f *fakeTrader) setBook(bid, ask string) {
	f.depth = exchange.Depth{Symbol: "BTC/USDT", BestBid: d(bid), BestAsk: d(ask)}
}

func (f *fakeTrader) GetBalance(context.Context) ([]exchange.Balance, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balances, nil
}

func (f *fakeTrader) GetTicker(context.Context, string) (*exchange.Ticker, error) {
	t := f.ticker
	return &t, nil
}

func (f *fakeTrader) GetDepth(context.Context, string, int) (*exchange.Depth, error) {
	dp := f.depth
	return &dp, nil
}

func (f *fakeTrader) GetTrades(context.Context, string, int) ([]exchange.Trade, error) {
	return f.trades, nil
}

func (f *fakeTrader) PlaceOrder(_ context.Context, req execution.OrderRequest) (*execution.OrderResult, error) {
	f.orders = append(f.orders, req)
	id := fmt.Sprintf("order-%d", len(f.orders))
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	if !f.fillOrders {
		return &execution.OrderResult{LocalOrderID: id, Status: ledger.OrderSent}, nil
	}
	return &execution.OrderResult{
		LocalOrderID: id,
		Status:       ledger.OrderFilled,
		FilledQty:    req.Amount,
		AvgPrice:     f.ticker.Price,
	}, nil
}

var errExchangeDown = errors.New("exchange down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time             { return c.t }
func (c *clock) advance(step time.Duration) { c.t = c.t.Add(step) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTickContext(t *testing.T, trader Trader, c *clock) *TickContext {
	t.Helper()
	return &TickContext{
		Trader: trader,
		Bot:    &ledger.Bot{ID: "bot-1", Name: "test"},
		Logger: zaptest.NewLogger(t),
		Now:    c.now,
	}
}

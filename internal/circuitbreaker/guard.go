package circuitbreaker

import (
	"context"

	"github.com/mselser95/botledger/internal/exchange"
)

// GuardedAdapter routes market-data reads through a Breaker. Balance reads
// and order placement always reach the inner adapter so stop-time
// liquidation is never short-circuited.
type GuardedAdapter struct {
	inner   exchange.Adapter
	breaker *Breaker
}

// Guard wraps inner with b.
func Guard(inner exchange.Adapter, b *Breaker) *GuardedAdapter {
	return &GuardedAdapter{inner: inner, breaker: b}
}

// Inner returns the wrapped adapter.
func (g *GuardedAdapter) Inner() exchange.Adapter {
	return g.inner
}

func (g *GuardedAdapter) GetBalance(ctx context.Context, accountRef string) ([]exchange.Balance, error) {
	return g.inner.GetBalance(ctx, accountRef)
}

func (g *GuardedAdapter) GetTicker(ctx context.Context, accountRef, symbol string) (*exchange.Ticker, error) {
	err := g.breaker.Allow()
	if err != nil {
		return nil, err
	}
	t, err := g.inner.GetTicker(ctx, accountRef, symbol)
	g.record(ctx, err)
	return t, err
}

func (g *GuardedAdapter) GetDepth(ctx context.Context, accountRef, symbol string, limit int) (*exchange.Depth, error) {
	err := g.breaker.Allow()
	if err != nil {
		return nil, err
	}
	d, err := g.inner.GetDepth(ctx, accountRef, symbol, limit)
	g.record(ctx, err)
	return d, err
}

func (g *GuardedAdapter) GetTrades(ctx context.Context, accountRef, symbol string, limit int) ([]exchange.Trade, error) {
	err := g.breaker.Allow()
	if err != nil {
		return nil, err
	}
	trades, err := g.inner.GetTrades(ctx, accountRef, symbol, limit)
	g.record(ctx, err)
	return trades, err
}

func (g *GuardedAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResponse, error) {
	return g.inner.PlaceOrder(ctx, req)
}

// record releases the slot without an outcome when the caller cancelled.
func (g *GuardedAdapter) record(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil {
		g.breaker.Release()
		return
	}
	g.breaker.Record(err)
}

package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticMarket struct {
	price decimal.Decimal
}

func (s *staticMarket) GetTicker(_ context.Context, _, symbol string) (*Ticker, error) {
	return &Ticker{Symbol: symbol, Price: s.price}, nil
}

func (s *staticMarket) GetDepth(_ context.Context, _, symbol string, _ int) (*Depth, error) {
	return &Depth{Symbol: symbol, BestBid: s.price, BestAsk: s.price}, nil
}

func (s *staticMarket) GetTrades(_ context.Context, _, _ string, _ int) ([]Trade, error) {
	return nil, nil
}

func newTestPaper(t *testing.T, price string) (*PaperAdapter, *staticMarket) {
	t.Helper()
	market := &staticMarket{price: decimal.RequireFromString(price)}
	return NewPaperAdapter(&PaperConfig{
		Source:       market,
		QuoteBalance: decimal.NewFromInt(1000),
		FeeRate:      decimal.RequireFromString("0.001"),
		Logger:       zaptest.NewLogger(t),
	}), market
}

func TestPaperAdapter_BuySell(t *testing.T) {
	paper, market := newTestPaper(t, "100")
	ctx := context.Background()

	resp, err := paper.PlaceOrder(ctx, OrderRequest{
		AccountRef: "acc", Symbol: "BTC/USDT", Side: SideBuy, Amount: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, resp.Status)
	require.Len(t, resp.Fills, 1)
	assert.NotEmpty(t, resp.Fills[0].TradeID)
	assert.True(t, decimal.RequireFromString("0.2").Equal(resp.Fee))
	assert.Equal(t, "USDT", resp.FeeAsset)

	balances, err := paper.GetBalance(ctx, "acc")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("799.8").Equal(FreeBalance(balances, "USDT")))
	assert.True(t, decimal.NewFromInt(2).Equal(FreeBalance(balances, "BTC")))

	market.price = decimal.NewFromInt(110)
	_, err = paper.PlaceOrder(ctx, OrderRequest{
		AccountRef: "acc", Symbol: "BTC/USDT", Side: SideSell, Amount: decimal.NewFromInt(2),
	})
	require.NoError(t, err)

	balances, err = paper.GetBalance(ctx, "acc")
	require.NoError(t, err)
	// 799.8 + 220 - 0.22
	assert.True(t, decimal.RequireFromString("1019.58").Equal(FreeBalance(balances, "USDT")))
	assert.True(t, FreeBalance(balances, "BTC").IsZero())
}

func TestPaperAdapter_InsufficientBalance(t *testing.T) {
	paper, _ := newTestPaper(t, "100")
	ctx := context.Background()

	_, err := paper.PlaceOrder(ctx, OrderRequest{
		AccountRef: "acc", Symbol: "BTC/USDT", Side: SideBuy, Amount: decimal.NewFromInt(20),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	_, err = paper.PlaceOrder(ctx, OrderRequest{
		AccountRef: "acc", Symbol: "BTC/USDT", Side: SideSell, Amount: decimal.NewFromInt(1),
	})
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
}

func TestPaperAdapter_RestingLimit(t *testing.T) {
	paper, _ := newTestPaper(t, "100")
	limit := decimal.NewFromInt(90)

	resp, err := paper.PlaceOrder(context.Background(), OrderRequest{
		AccountRef: "acc", Symbol: "BTC/USDT", Side: SideBuy,
		Amount: decimal.NewFromInt(1), Type: OrderTypeLimit, Price: &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, resp.Status)
	assert.Empty(t, resp.Fills)

	balances, _ := paper.GetBalance(context.Background(), "acc")
	assert.True(t, decimal.NewFromInt(1000).Equal(FreeBalance(balances, "USDT")))
}

func TestPaperAdapter_AccountsIsolated(t *testing.T) {
	paper, _ := newTestPaper(t, "100")
	ctx := context.Background()
	paper.SetBalance("a", "BTC", decimal.NewFromInt(1))

	_, err := paper.PlaceOrder(ctx, OrderRequest{
		AccountRef: "b", Symbol: "BTC/USDT", Side: SideSell, Amount: decimal.NewFromInt(1),
	})
	assert.Error(t, err)

	_, err = paper.PlaceOrder(ctx, OrderRequest{
		AccountRef: "a", Symbol: "BTC/USDT", Side: SideSell, Amount: decimal.NewFromInt(1),
	})
	assert.NoError(t, err)
}

func TestPaperAdapter_InvalidAmount(t *testing.T) {
	paper, _ := newTestPaper(t, "100")
	_, err := paper.PlaceOrder(context.Background(), OrderRequest{
		AccountRef: "acc", Symbol: "BTC/USDT", Side: SideBuy, Amount: decimal.Zero,
	})
	assert.Error(t, err)
}

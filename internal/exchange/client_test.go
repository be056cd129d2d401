package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]any
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string]any)} }

func (m *mapCache) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *mapCache) Set(key string, value any, _ time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return true
}

func (m *mapCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *mapCache) Close() {}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *mapCache) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limits := newMapCache()
	return NewClient(&ClientConfig{
		BaseURL:     server.URL,
		Timeout:     5 * time.Second,
		RateLimit:   1000,
		RateBurst:   10,
		LimitsCache: limits,
		LimitsTTL:   time.Hour,
		Logger:      zaptest.NewLogger(t),
	}), limits
}

func TestClient_GetBalance(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance/acc-1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"totalUsdtValue": 1500.5, "assets": [
			{"asset": "USDT", "free": "1000.5", "locked": "0", "usdtValue": 1000.5},
			{"asset": "BTC", "free": 0.01, "locked": 0, "usdtValue": 500}
		]}`))
	})

	balances, err := client.GetBalance(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, balances, 2)

	assert.True(t, decimal.RequireFromString("1000.5").Equal(FreeBalance(balances, "USDT")))
	assert.True(t, decimal.RequireFromString("0.01").Equal(FreeBalance(balances, "BTC")))
	assert.True(t, FreeBalance(balances, "ETH").IsZero())
}

func TestClient_GetTicker_CachesLimits(t *testing.T) {
	withLimits := true
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/ticker", r.URL.Path)
		assert.Equal(t, "acc-1", r.URL.Query().Get("key_id"))
		assert.Equal(t, "BTC/USDT", r.URL.Query().Get("symbol"))
		if withLimits {
			_, _ = w.Write([]byte(`{"symbol":"BTC/USDT","price":50000,"limits":{"min_notional":5,"min_amount":"0.00001"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTC/USDT","price":51000,"limits":{"min_notional":null,"min_amount":null}}`))
	})

	ticker, err := client.GetTicker(context.Background(), "acc-1", "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(ticker.Price))
	assert.True(t, decimal.NewFromInt(5).Equal(ticker.MinNotional))
	assert.True(t, decimal.RequireFromString("0.00001").Equal(ticker.MinAmount))

	withLimits = false
	ticker, err = client.GetTicker(context.Background(), "acc-1", "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(51000).Equal(ticker.Price))
	assert.True(t, decimal.NewFromInt(5).Equal(ticker.MinNotional), "limits served from cache")
}

func TestClient_GetDepthAndTrades(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market/depth":
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"symbol":"BTC/USDT","bids":[["99.5","2"],["99","1"]],"asks":[[100.5,3]]}`))
		case "/market/trades":
			_, _ = w.Write([]byte(`{"trades":[{"timestamp":1700000000000,"price":"100","amount":"0.5","side":"BUY"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	depth, err := client.GetDepth(context.Background(), "acc-1", "BTC/USDT", 20)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("99.5").Equal(depth.BestBid), "best bid derived from levels")
	assert.True(t, decimal.RequireFromString("100.5").Equal(depth.BestAsk))
	assert.Len(t, depth.Bids, 2)

	trades, err := client.GetTrades(context.Background(), "acc-1", "BTC/USDT", 100)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, SideBuy, trades[0].Side)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), trades[0].Timestamp)
}

func TestClient_PlaceOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "acc-1", payload["key_id"])
		assert.Equal(t, "buy", payload["side"])
		assert.Equal(t, "market", payload["order_type"])

		_, _ = w.Write([]byte(`{
			"status": "filled",
			"order_id": "123456",
			"details": {
				"id": "123456", "status": "closed", "average": 100.2, "price": 100.2,
				"filled": 1.0, "cost": 100.2,
				"fee": {"cost": 0.1, "currency": "USDT"},
				"info": {
					"side": "BUY", "transactTime": 1700000000123, "orderListId": -1,
					"fills": [
						{"tradeId": 901, "price": "100.0", "qty": "0.5", "commission": "0.05", "commissionAsset": "USDT"},
						{"tradeId": 902, "price": "100.4", "qty": "0.5", "commission": "0.05", "commissionAsset": "USDT"}
					]
				}
			}
		}`))
	})

	resp, err := client.PlaceOrder(context.Background(), OrderRequest{
		AccountRef: "acc-1",
		Symbol:     "BTC/USDT",
		Side:       SideBuy,
		Amount:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFilled, resp.Status)
	assert.Equal(t, "123456", resp.OrderID)
	assert.Equal(t, "-1", resp.OrderListID)
	assert.Equal(t, SideBuy, resp.Side)
	require.Len(t, resp.Fills, 2)
	assert.Equal(t, "901", resp.Fills[0].TradeID)
	assert.True(t, decimal.RequireFromString("100.4").Equal(resp.Fills[1].Price))
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), resp.TransactTime)
}

func TestNormalizeOrder_Status(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		expect OrderStatus
	}{
		{
			name:   "filled_and_closed",
			body:   `{"status":"filled","order_id":"1","details":{"status":"closed","filled":1}}`,
			expect: StatusFilled,
		},
		{
			name:   "filled_but_resting",
			body:   `{"status":"filled","order_id":"1","details":{"status":"open","filled":0}}`,
			expect: StatusSent,
		},
		{
			name:   "partial_open",
			body:   `{"status":"filled","order_id":"1","details":{"status":"open","filled":0.3}}`,
			expect: StatusFilled,
		},
		{
			name:   "error",
			body:   `{"status":"error","detail":"insufficient funds"}`,
			expect: StatusError,
		},
		{
			name:   "unknown_is_sent",
			body:   `{"status":"new","order_id":"2"}`,
			expect: StatusSent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp orderResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &resp))

			out := normalizeOrder(&resp, OrderRequest{Side: SideSell})
			assert.Equal(t, tt.expect, out.Status)
			assert.Equal(t, SideSell, out.Side)
		})
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"upstream down"}`))
	})

	_, err := client.GetBalance(context.Background(), "acc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 502")
}

func TestClient_ContextCanceled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetTicker(ctx, "acc-1", "BTC/USDT")
	require.Error(t, err)
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"ETH/BTC", "ETH", "BTC"},
		{"SOL", "SOL", "USDT"},
		{"SOL/", "SOL", "USDT"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			base, quote := SplitSymbol(tt.symbol)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.quote, quote)
		})
	}
}

package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/shopspring/decimal"
)

// MockExchange is an in-memory exchange.Adapter for tests. Orders fill at
// the current ticker price unless a place hook or failure is configured.
type MockExchange struct {
	mu        sync.Mutex
	balances  map[string]map[string]decimal.Decimal
	tickers   map[string]*exchange.Ticker
	depths    map[string]*exchange.Depth
	trades    map[string][]exchange.Trade
	placed    []exchange.OrderRequest
	placeHook func(req exchange.OrderRequest) (*exchange.OrderResponse, error)
	tickerErr error
	placeErr  error
	counter   int
}

// NewMockExchange creates an empty mock exchange.
func NewMockExchange() *MockExchange {
	return &MockExchange{
		balances: make(map[string]map[string]decimal.Decimal),
		tickers:  make(map[string]*exchange.Ticker),
		depths:   make(map[string]*exchange.Depth),
		trades:   make(map[string][]exchange.Trade),
	}
}

// SetBalance sets the free balance of asset on accountRef.
func (m *MockExchange) SetBalance(accountRef, asset string, free decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.balances[accountRef]
	if !ok {
		acc = make(map[string]decimal.Decimal)
		m.balances[accountRef] = acc
	}
	acc[asset] = free
}

// SetTicker sets the ticker returned for symbol.
func (m *MockExchange) SetTicker(t exchange.Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[t.Symbol] = &t
}

// SetPrice updates only the price of symbol's ticker.
func (m *MockExchange) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickers[symbol]
	if !ok {
		t = &exchange.Ticker{Symbol: symbol}
		m.tickers[symbol] = t
	}
	t.Price = price
}

// SetDepth sets the order book returned for depth.Symbol.
func (m *MockExchange) SetDepth(depth exchange.Depth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[depth.Symbol] = &depth
}

// SetTrades sets the public trades returned for symbol.
func (m *MockExchange) SetTrades(symbol string, trades []exchange.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[symbol] = trades
}

// FailTicker makes GetTicker return err. Nil clears it.
func (m *MockExchange) FailTicker(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickerErr = err
}

// FailPlace makes PlaceOrder return err. Nil clears it.
func (m *MockExchange) FailPlace(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErr = err
}

// OnPlace replaces the default fill behavior.
func (m *MockExchange) OnPlace(hook func(req exchange.OrderRequest) (*exchange.OrderResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeHook = hook
}

// PlacedOrders returns every PlaceOrder request received.
func (m *MockExchange) PlacedOrders() []exchange.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]exchange.OrderRequest, len(m.placed))
	copy(out, m.placed)
	return out
}

func (m *MockExchange) GetBalance(_ context.Context, accountRef string) ([]exchange.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []exchange.Balance
	for asset, free := range m.balances[accountRef] {
		out = append(out, exchange.Balance{Asset: asset, Free: free})
	}
	return out, nil
}

func (m *MockExchange) GetTicker(_ context.Context, _, symbol string) (*exchange.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickerErr != nil {
		return nil, m.tickerErr
	}
	t, ok := m.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}
	cp := *t
	return &cp, nil
}

func (m *MockExchange) GetDepth(_ context.Context, _, symbol string, _ int) (*exchange.Depth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.depths[symbol]
	if !ok {
		return nil, fmt.Errorf("no depth for %s", symbol)
	}
	cp := *d
	return &cp, nil
}

func (m *MockExchange) GetTrades(_ context.Context, _, symbol string, _ int) ([]exchange.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]exchange.Trade, len(m.trades[symbol]))
	copy(out, m.trades[symbol])
	return out, nil
}

func (m *MockExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placed = append(m.placed, req)
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	if m.placeHook != nil {
		return m.placeHook(req)
	}

	t, ok := m.tickers[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s", req.Symbol)
	}

	m.counter++
	orderID := fmt.Sprintf("mock-order-%d", m.counter)
	return &exchange.OrderResponse{
		Status:       exchange.StatusFilled,
		OrderID:      orderID,
		Side:         req.Side,
		AveragePrice: t.Price,
		Price:        t.Price,
		Filled:       req.Amount,
		Cost:         t.Price.Mul(req.Amount),
		Fee:          decimal.Zero,
		TransactTime: time.Now().UTC(),
		Fills: []exchange.Fill{{
			TradeID: fmt.Sprintf("mock-trade-%d", m.counter),
			Price:   t.Price,
			Qty:     req.Amount,
		}},
	}, nil
}

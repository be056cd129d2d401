package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/botledger/pkg/cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is an HTTP client for the exchange-adapter service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	limits     cache.Cache
	limitsTTL  time.Duration
	logger     *zap.Logger
}

// ClientConfig holds exchange client configuration.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	RateBurst int
	// LimitsCache keeps the last known min notional/amount per market so
	// tickers served without limits still carry them. Optional.
	LimitsCache cache.Cache
	LimitsTTL   time.Duration
	Logger      *zap.Logger
}

// NewClient creates a new exchange-adapter client.
func NewClient(cfg *ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:   rate.NewLimiter(limit, burst),
		limits:    cfg.LimitsCache,
		limitsTTL: cfg.LimitsTTL,
		logger:    cfg.Logger,
	}
}

type balanceResponse struct {
	TotalUSDTValue decimal.Decimal `json:"totalUsdtValue"`
	Assets         []struct {
		Asset     string          `json:"asset"`
		Free      decimal.Decimal `json:"free"`
		Locked    decimal.Decimal `json:"locked"`
		USDTValue decimal.Decimal `json:"usdtValue"`
	} `json:"assets"`
}

type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Limits *struct {
		MinNotional decimal.NullDecimal `json:"min_notional"`
		MinAmount   decimal.NullDecimal `json:"min_amount"`
	} `json:"limits"`
}

type depthResponse struct {
	Symbol  string               `json:"symbol"`
	BestBid decimal.Decimal      `json:"best_bid"`
	BestAsk decimal.Decimal      `json:"best_ask"`
	Bids    [][2]decimal.Decimal `json:"bids"`
	Asks    [][2]decimal.Decimal `json:"asks"`
}

type tradesResponse struct {
	Trades []struct {
		Timestamp int64           `json:"timestamp"`
		Price     decimal.Decimal `json:"price"`
		Amount    decimal.Decimal `json:"amount"`
		Side      string          `json:"side"`
	} `json:"trades"`
}

type orderPayload struct {
	KeyID     string           `json:"key_id"`
	Symbol    string           `json:"symbol"`
	Side      string           `json:"side"`
	Amount    decimal.Decimal  `json:"amount"`
	OrderType string           `json:"order_type"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type orderResponse struct {
	Status  string       `json:"status"`
	OrderID flexString   `json:"order_id"`
	Details orderDetails `json:"details"`
	Detail  string       `json:"detail"`
}

type orderDetails struct {
	ID      flexString          `json:"id"`
	Status  string              `json:"status"`
	Average decimal.NullDecimal `json:"average"`
	Price   decimal.NullDecimal `json:"price"`
	Filled  decimal.NullDecimal `json:"filled"`
	Cost    decimal.NullDecimal `json:"cost"`
	Fee     *struct {
		Cost     decimal.NullDecimal `json:"cost"`
		Currency string              `json:"currency"`
	} `json:"fee"`
	Info struct {
		Fills []struct {
			TradeID         flexString      `json:"tradeId"`
			Price           decimal.Decimal `json:"price"`
			Qty             decimal.Decimal `json:"qty"`
			Commission      decimal.Decimal `json:"commission"`
			CommissionAsset string          `json:"commissionAsset"`
		} `json:"fills"`
		TransactTime int64      `json:"transactTime"`
		Side         string     `json:"side"`
		OrderListID  flexString `json:"orderListId"`
	} `json:"info"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		err := json.Unmarshal(b, &str)
		if err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	*f = flexString(s)
	return nil
}

// GetBalance fetches account balances.
func (c *Client) GetBalance(ctx context.Context, accountRef string) ([]Balance, error) {
	var resp balanceResponse
	err := c.do(ctx, "balance", http.MethodGet, "/balance/"+url.PathEscape(accountRef), nil, &resp)
	if err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(resp.Assets))
	for _, a := range resp.Assets {
		balances = append(balances, Balance{
			Asset:        a.Asset,
			Free:         a.Free,
			Locked:       a.Locked,
			ValueInQuote: a.USDTValue,
		})
	}
	return balances, nil
}

// GetTicker fetches the last price and order limits.
func (c *Client) GetTicker(ctx context.Context, accountRef, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("key_id", accountRef)
	params.Set("symbol", symbol)

	var resp tickerResponse
	err := c.do(ctx, "ticker", http.MethodGet, "/market/ticker?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, err
	}

	ticker := &Ticker{
		Symbol:      symbol,
		Price:       resp.Price,
		MinNotional: decimal.Zero,
		MinAmount:   decimal.Zero,
	}

	cacheKey := "limits:" + accountRef + ":" + symbol
	if resp.Limits != nil && (resp.Limits.MinNotional.Valid || resp.Limits.MinAmount.Valid) {
		if resp.Limits.MinNotional.Valid {
			ticker.MinNotional = resp.Limits.MinNotional.Decimal
		}
		if resp.Limits.MinAmount.Valid {
			ticker.MinAmount = resp.Limits.MinAmount.Decimal
		}
		if c.limits != nil {
			c.limits.Set(cacheKey, [2]decimal.Decimal{ticker.MinNotional, ticker.MinAmount}, c.limitsTTL)
		}
	} else if c.limits != nil {
		if cached, ok := c.limits.Get(cacheKey); ok {
			if lim, valid := cached.([2]decimal.Decimal); valid {
				ticker.MinNotional, ticker.MinAmount = lim[0], lim[1]
				c.logger.Debug("ticker-limits-from-cache", zap.String("symbol", symbol))
			}
		}
	}

	return ticker, nil
}

// GetDepth fetches an order book snapshot.
func (c *Client) GetDepth(ctx context.Context, accountRef, symbol string, limit int) (*Depth, error) {
	params := url.Values{}
	params.Set("key_id", accountRef)
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	var resp depthResponse
	err := c.do(ctx, "depth", http.MethodGet, "/market/depth?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, err
	}

	depth := &Depth{
		Symbol:  symbol,
		BestBid: resp.BestBid,
		BestAsk: resp.BestAsk,
		Bids:    toLevels(resp.Bids),
		Asks:    toLevels(resp.Asks),
	}
	if depth.BestBid.IsZero() && len(depth.Bids) > 0 {
		depth.BestBid = depth.Bids[0].Price
	}
	if depth.BestAsk.IsZero() && len(depth.Asks) > 0 {
		depth.BestAsk = depth.Asks[0].Price
	}
	return depth, nil
}

// GetTrades fetches recent public trades.
func (c *Client) GetTrades(ctx context.Context, accountRef, symbol string, limit int) ([]Trade, error) {
	params := url.Values{}
	params.Set("key_id", accountRef)
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	var resp tradesResponse
	err := c.do(ctx, "trades", http.MethodGet, "/market/trades?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, err
	}

	trades := make([]Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		trades = append(trades, Trade{
			Timestamp: time.UnixMilli(t.Timestamp).UTC(),
			Price:     t.Price,
			Amount:    t.Amount,
			Side:      Side(strings.ToLower(t.Side)),
		})
	}
	return trades, nil
}

// PlaceOrder submits an order. A non-2xx response is returned as an error;
// a 2xx body with an error status is returned as StatusError.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	orderType := req.Type
	if orderType == "" {
		orderType = OrderTypeMarket
	}

	payload := orderPayload{
		KeyID:     req.AccountRef,
		Symbol:    req.Symbol,
		Side:      string(req.Side),
		Amount:    req.Amount,
		OrderType: string(orderType),
		Price:     req.Price,
	}

	var resp orderResponse
	err := c.do(ctx, "order", http.MethodPost, "/order", payload, &resp)
	if err != nil {
		return nil, err
	}

	return normalizeOrder(&resp, req), nil
}

func normalizeOrder(resp *orderResponse, req OrderRequest) *OrderResponse {
	d := resp.Details
	out := &OrderResponse{
		OrderID:      string(resp.OrderID),
		OrderListID:  string(d.Info.OrderListID),
		Side:         req.Side,
		AveragePrice: d.Average.Decimal,
		Price:        d.Price.Decimal,
		Filled:       d.Filled.Decimal,
		Cost:         d.Cost.Decimal,
		Fee:          decimal.Zero,
		Error:        resp.Detail,
	}
	if out.OrderID == "" {
		out.OrderID = string(d.ID)
	}
	if d.Info.Side != "" {
		out.Side = Side(strings.ToLower(d.Info.Side))
	}
	if d.Fee != nil {
		out.Fee = d.Fee.Cost.Decimal
		out.FeeAsset = d.Fee.Currency
	}
	if d.Info.TransactTime > 0 {
		out.TransactTime = time.UnixMilli(d.Info.TransactTime).UTC()
	}
	for _, f := range d.Info.Fills {
		out.Fills = append(out.Fills, Fill{
			TradeID:         string(f.TradeID),
			Price:           f.Price,
			Qty:             f.Qty,
			Commission:      f.Commission,
			CommissionAsset: f.CommissionAsset,
		})
	}

	switch strings.ToLower(resp.Status) {
	case "filled", "closed":
		out.Status = StatusFilled
		// the adapter reports "filled" once the exchange accepted the order;
		// an open order with nothing filled is still resting
		if strings.EqualFold(d.Status, "open") && !out.Filled.IsPositive() && len(out.Fills) == 0 {
			out.Status = StatusSent
		}
	case "error", "failed", "rejected", "canceled":
		out.Status = StatusError
	default:
		out.Status = StatusSent
	}

	return out
}

func toLevels(raw [][2]decimal.Decimal) []Level {
	levels := make([]Level, 0, len(raw))
	for _, l := range raw {
		levels = append(levels, Level{Price: l[0], Amount: l[1]})
	}
	return levels
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body any, out any) error {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("marshal request: %w", marshalErr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "botledger/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		RequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	RequestDurationSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	c.logger.Debug("exchange-request-complete",
		zap.String("endpoint", endpoint),
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)))

	return nil
}

package execution

import (
	"strconv"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// fillsFromResponse converts a filled placement into ledger fills. Granular
// fills are keyed by their exchange trade id. A response without fills is
// recorded as one aggregate fill keyed by the exchange order id, so a retry
// of the same commit stays idempotent.
func fillsFromResponse(order *ledger.LocalOrder, resp *exchange.OrderResponse, requested decimal.Decimal, now time.Time) []ledger.Fill {
	ts := resp.TransactTime
	if ts.IsZero() {
		ts = now
	}

	base := ledger.Fill{
		ExchangeOrderID: resp.OrderID,
		OrderListID:     resp.OrderListID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Timestamp:       ts,
	}

	if len(resp.Fills) > 0 {
		fills := make([]ledger.Fill, 0, len(resp.Fills))
		for i, f := range resp.Fills {
			fill := base
			fill.ExchangeTradeID = f.TradeID
			if fill.ExchangeTradeID == "" {
				fill.ExchangeTradeID = aggregateTradeID(order, resp) + ":" + strconv.Itoa(i)
			}
			fill.Price = f.Price
			fill.Quantity = f.Qty
			fill.QuoteQty = f.Price.Mul(f.Qty)
			fill.Fee = f.Commission
			fill.FeeAsset = f.CommissionAsset
			fills = append(fills, fill)
		}
		return fills
	}

	fill := base
	fill.ExchangeTradeID = aggregateTradeID(order, resp)

	fill.Price = resp.AveragePrice
	if !fill.Price.IsPositive() {
		fill.Price = resp.Price
	}

	fill.Quantity = resp.Filled
	if !fill.Quantity.IsPositive() {
		fill.Quantity = requested
	}

	fill.QuoteQty = resp.Cost
	if !fill.QuoteQty.IsPositive() {
		fill.QuoteQty = fill.Price.Mul(fill.Quantity)
	}

	fill.Fee = resp.Fee
	fill.FeeAsset = resp.FeeAsset

	return []ledger.Fill{fill}
}

func aggregateTradeID(order *ledger.LocalOrder, resp *exchange.OrderResponse) string {
	if resp.OrderID != "" {
		return resp.OrderID
	}
	return "local:" + order.ID
}

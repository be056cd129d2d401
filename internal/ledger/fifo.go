package ledger

import "github.com/shopspring/decimal"

// Lot is an open BUY execution as seen by the matcher.
type Lot struct {
	ExecutionID string
	Price       decimal.Decimal
	Remaining   decimal.Decimal
}

// Allocation is the part of a SELL matched against one lot.
type Allocation struct {
	ExecutionID string
	MatchedQty  decimal.Decimal
	Remaining   decimal.Decimal // lot remaining after the match
	PnL         decimal.Decimal
}

// MatchResult is the outcome of matching one SELL.
type MatchResult struct {
	Allocations  []Allocation
	RealizedPnL  decimal.Decimal
	MatchedQty   decimal.Decimal
	UnmatchedQty decimal.Decimal
}

// MatchSell consumes lots oldest-first. lots must already be ordered by
// timestamp ascending and belong to a single bot and symbol. Lots with no
// remaining quantity are skipped. The input slice is not modified.
func MatchSell(lots []Lot, sellPrice, sellQty decimal.Decimal) MatchResult {
	result := MatchResult{
		RealizedPnL: decimal.Zero,
		MatchedQty:  decimal.Zero,
	}

	left := sellQty
	for _, lot := range lots {
		if !left.IsPositive() {
			break
		}
		if !lot.Remaining.IsPositive() {
			continue
		}

		matched := decimal.Min(lot.Remaining, left)
		pnl := sellPrice.Sub(lot.Price).Mul(matched)

		result.Allocations = append(result.Allocations, Allocation{
			ExecutionID: lot.ExecutionID,
			MatchedQty:  matched,
			Remaining:   lot.Remaining.Sub(matched),
			PnL:         pnl,
		})
		result.RealizedPnL = result.RealizedPnL.Add(pnl)
		result.MatchedQty = result.MatchedQty.Add(matched)
		left = left.Sub(matched)
	}

	if left.IsPositive() {
		result.UnmatchedQty = left
	} else {
		result.UnmatchedQty = decimal.Zero
	}

	return result
}

package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Stats are per-bot performance figures derived from SELL executions.
//
// A trade is a SELL with non-zero realized pnl, the same rule the session
// summary applies. GrossLoss is a non-negative magnitude. ProfitFactor is
// GrossProfit / GrossLoss and is nil whenever GrossLoss is zero, including
// when there are no trades. MaxDrawdown is the
// largest peak-to-trough drop of cumulative realized pnl, non-negative.
type Stats struct {
	BotID        string           `json:"bot_id"`
	TotalPnL     decimal.Decimal  `json:"total_pnl"`
	TradeCount   int              `json:"trade_count"`
	WinCount     int              `json:"win_count"`
	LossCount    int              `json:"loss_count"`
	WinRate      decimal.Decimal  `json:"win_rate"`
	AvgPnL       decimal.Decimal  `json:"avg_pnl"`
	GrossProfit  decimal.Decimal  `json:"gross_profit"`
	GrossLoss    decimal.Decimal  `json:"gross_loss"`
	ProfitFactor *decimal.Decimal `json:"profit_factor"`
	MaxDrawdown  decimal.Decimal  `json:"max_drawdown"`
	TotalFees    decimal.Decimal  `json:"total_fees"`
}

// ComputeStats folds executions (ledger order) into Stats.
func ComputeStats(botID string, execs []Execution) Stats {
	stats := Stats{
		BotID:       botID,
		TotalPnL:    decimal.Zero,
		WinRate:     decimal.Zero,
		AvgPnL:      decimal.Zero,
		GrossProfit: decimal.Zero,
		GrossLoss:   decimal.Zero,
		MaxDrawdown: decimal.Zero,
		TotalFees:   decimal.Zero,
	}

	peak := decimal.Zero
	for _, e := range execs {
		stats.TotalFees = stats.TotalFees.Add(e.Fee)
		if e.Side != SideSell {
			continue
		}

		pnl := e.RealizedPnL
		if pnl.IsZero() {
			continue
		}
		stats.TradeCount++
		stats.TotalPnL = stats.TotalPnL.Add(pnl)

		switch {
		case pnl.IsPositive():
			stats.WinCount++
			stats.GrossProfit = stats.GrossProfit.Add(pnl)
		case pnl.IsNegative():
			stats.LossCount++
			stats.GrossLoss = stats.GrossLoss.Add(pnl.Abs())
		}

		if stats.TotalPnL.GreaterThan(peak) {
			peak = stats.TotalPnL
		}
		drawdown := peak.Sub(stats.TotalPnL)
		if drawdown.GreaterThan(stats.MaxDrawdown) {
			stats.MaxDrawdown = drawdown
		}
	}

	if stats.TradeCount > 0 {
		n := decimal.NewFromInt(int64(stats.TradeCount))
		stats.WinRate = decimal.NewFromInt(int64(stats.WinCount)).Div(n)
		stats.AvgPnL = stats.TotalPnL.Div(n)
	}

	if stats.GrossLoss.IsPositive() {
		pf := stats.GrossProfit.Div(stats.GrossLoss)
		stats.ProfitFactor = &pf
	}

	return stats
}

// BotStats computes stats from the bot's raw executions.
func (s *Store) BotStats(ctx context.Context, botID string) (*Stats, error) {
	_, err := s.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}

	execs, err := s.ListExecutions(ctx, botID)
	if err != nil {
		return nil, err
	}

	stats := ComputeStats(botID, execs)
	return &stats, nil
}

// NetPositions returns the signed BUY minus SELL quantity per symbol.
func (s *Store) NetPositions(ctx context.Context, botID string) ([]Position, error) {
	execs, err := s.ListExecutions(ctx, botID)
	if err != nil {
		return nil, err
	}

	net := make(map[string]decimal.Decimal)
	for _, e := range execs {
		qty := e.Quantity
		if e.Side == SideSell {
			qty = qty.Neg()
		}
		net[e.Symbol] = net[e.Symbol].Add(qty)
	}

	positions := make([]Position, 0, len(net))
	for symbol, qty := range net {
		positions = append(positions, Position{Symbol: symbol, NetQty: qty})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})

	return positions, nil
}

// Mismatch is one execution whose stored derived fields disagree with a
// replay of the raw fills.
type Mismatch struct {
	ExecutionID string          `json:"execution_id"`
	Field       string          `json:"field"`
	Stored      decimal.Decimal `json:"stored"`
	Expected    decimal.Decimal `json:"expected"`
}

// Verification is the result of VerifyBot.
type Verification struct {
	BotID            string          `json:"bot_id"`
	ExecutionCount   int             `json:"execution_count"`
	StoredTotalPnL   decimal.Decimal `json:"stored_total_pnl"`
	ReplayedTotalPnL decimal.Decimal `json:"replayed_total_pnl"`
	Mismatches       []Mismatch      `json:"mismatches"`
}

// OK reports whether the replay matched the stored ledger.
func (v Verification) OK() bool {
	return len(v.Mismatches) == 0 && v.StoredTotalPnL.Equal(v.ReplayedTotalPnL)
}

// VerifyBot replays the bot's executions through MatchSell and compares the
// recomputed remaining_qty and realized_pnl with what is stored.
func (s *Store) VerifyBot(ctx context.Context, botID string) (*Verification, error) {
	execs, err := s.ListExecutions(ctx, botID)
	if err != nil {
		return nil, err
	}

	v := Replay(botID, execs)
	return &v, nil
}

// Replay recomputes derived fields from raw executions in ledger order.
func Replay(botID string, execs []Execution) Verification {
	v := Verification{
		BotID:            botID,
		ExecutionCount:   len(execs),
		StoredTotalPnL:   decimal.Zero,
		ReplayedTotalPnL: decimal.Zero,
	}

	lotsBySymbol := make(map[string][]Lot)
	lotIndex := make(map[string]int) // execution id -> index in its symbol slice

	for _, e := range execs {
		switch e.Side {
		case SideBuy:
			lotIndex[e.ID] = len(lotsBySymbol[e.Symbol])
			lotsBySymbol[e.Symbol] = append(lotsBySymbol[e.Symbol], Lot{
				ExecutionID: e.ID,
				Price:       e.Price,
				Remaining:   e.Quantity,
			})
		case SideSell:
			lots := lotsBySymbol[e.Symbol]
			result := MatchSell(lots, e.Price, e.Quantity)
			for _, alloc := range result.Allocations {
				lots[lotIndex[alloc.ExecutionID]].Remaining = alloc.Remaining
			}

			v.StoredTotalPnL = v.StoredTotalPnL.Add(e.RealizedPnL)
			v.ReplayedTotalPnL = v.ReplayedTotalPnL.Add(result.RealizedPnL)
			if !e.RealizedPnL.Equal(result.RealizedPnL) {
				v.Mismatches = append(v.Mismatches, Mismatch{
					ExecutionID: e.ID,
					Field:       "realized_pnl",
					Stored:      e.RealizedPnL,
					Expected:    result.RealizedPnL,
				})
			}
		}
	}

	for _, e := range execs {
		if e.Side != SideBuy {
			continue
		}
		expected := lotsBySymbol[e.Symbol][lotIndex[e.ID]].Remaining
		if !e.RemainingQty.Equal(expected) {
			v.Mismatches = append(v.Mismatches, Mismatch{
				ExecutionID: e.ID,
				Field:       "remaining_qty",
				Stored:      e.RemainingQty,
				Expected:    expected,
			})
		}
	}

	return v
}

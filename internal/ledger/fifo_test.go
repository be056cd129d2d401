package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMatchSell_TwoLotsPartial(t *testing.T) {
	lots := []Lot{
		{ExecutionID: "buy-1", Price: d("100"), Remaining: d("1.0")},
		{ExecutionID: "buy-2", Price: d("200"), Remaining: d("1.0")},
	}

	result := MatchSell(lots, d("300"), d("1.5"))

	require.Len(t, result.Allocations, 2)
	assert.True(t, result.Allocations[0].Remaining.IsZero(), "lot1 remaining = %s", result.Allocations[0].Remaining)
	assert.True(t, result.Allocations[1].Remaining.Equal(d("0.5")), "lot2 remaining = %s", result.Allocations[1].Remaining)
	assert.True(t, result.RealizedPnL.Equal(d("250")), "pnl = %s", result.RealizedPnL)
	assert.True(t, result.MatchedQty.Equal(d("1.5")))
	assert.True(t, result.UnmatchedQty.IsZero())

	// input untouched
	assert.True(t, lots[0].Remaining.Equal(d("1.0")))
}

func TestMatchSell(t *testing.T) {
	tests := []struct {
		name          string
		lots          []Lot
		price         string
		qty           string
		wantPnL       string
		wantMatched   string
		wantUnmatched string
		wantAllocs    int
	}{
		{
			name:          "no-lots",
			price:         "100",
			qty:           "1",
			wantPnL:       "0",
			wantMatched:   "0",
			wantUnmatched: "1",
		},
		{
			name: "exact-single-lot",
			lots: []Lot{
				{ExecutionID: "a", Price: d("60000"), Remaining: d("0.002")},
			},
			price:         "60150",
			qty:           "0.002",
			wantPnL:       "0.3",
			wantMatched:   "0.002",
			wantUnmatched: "0",
			wantAllocs:    1,
		},
		{
			name: "oversell-leaves-excess-unmatched",
			lots: []Lot{
				{ExecutionID: "a", Price: d("10"), Remaining: d("1")},
			},
			price:         "12",
			qty:           "3",
			wantPnL:       "2",
			wantMatched:   "1",
			wantUnmatched: "2",
			wantAllocs:    1,
		},
		{
			name: "skips-exhausted-lots",
			lots: []Lot{
				{ExecutionID: "a", Price: d("10"), Remaining: d("0")},
				{ExecutionID: "b", Price: d("20"), Remaining: d("2")},
			},
			price:         "15",
			qty:           "1",
			wantPnL:       "-5",
			wantMatched:   "1",
			wantUnmatched: "0",
			wantAllocs:    1,
		},
		{
			name: "stops-when-sell-consumed",
			lots: []Lot{
				{ExecutionID: "a", Price: d("10"), Remaining: d("1")},
				{ExecutionID: "b", Price: d("20"), Remaining: d("1")},
				{ExecutionID: "c", Price: d("30"), Remaining: d("1")},
			},
			price:         "25",
			qty:           "1",
			wantPnL:       "15",
			wantMatched:   "1",
			wantUnmatched: "0",
			wantAllocs:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MatchSell(tt.lots, d(tt.price), d(tt.qty))

			assert.True(t, result.RealizedPnL.Equal(d(tt.wantPnL)), "pnl = %s, want %s", result.RealizedPnL, tt.wantPnL)
			assert.True(t, result.MatchedQty.Equal(d(tt.wantMatched)), "matched = %s", result.MatchedQty)
			assert.True(t, result.UnmatchedQty.Equal(d(tt.wantUnmatched)), "unmatched = %s", result.UnmatchedQty)
			assert.Len(t, result.Allocations, tt.wantAllocs)

			for _, a := range result.Allocations {
				assert.False(t, a.Remaining.IsNegative(), "lot %s went negative", a.ExecutionID)
			}
		})
	}
}

func TestMatchSell_PnLIsSumOfChunks(t *testing.T) {
	lots := []Lot{
		{ExecutionID: "a", Price: d("1.1"), Remaining: d("0.3")},
		{ExecutionID: "b", Price: d("1.3"), Remaining: d("0.4")},
		{ExecutionID: "c", Price: d("0.9"), Remaining: d("0.5")},
	}

	result := MatchSell(lots, d("1.2"), d("1.0"))

	sum := decimal.Zero
	matched := decimal.Zero
	for _, a := range result.Allocations {
		sum = sum.Add(a.PnL)
		matched = matched.Add(a.MatchedQty)
	}
	assert.True(t, sum.Equal(result.RealizedPnL))
	assert.True(t, matched.Equal(d("1.0")))
	// 0.3*0.1 + 0.4*(-0.1) + 0.3*0.3
	assert.True(t, result.RealizedPnL.Equal(d("0.08")), "pnl = %s", result.RealizedPnL)
}

package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sellWithPnL(pnl string) Execution {
	return Execution{Side: SideSell, RealizedPnL: d(pnl), Fee: d("0.1")}
}

func TestComputeStats_TradeCountMatchesSessionSummary(t *testing.T) {
	execs := []Execution{
		{Side: SideBuy, RealizedPnL: d("0"), Fee: d("0.1")},
		sellWithPnL("5"),
		sellWithPnL("0"), // fully unmatched or break-even
		sellWithPnL("-2"),
	}

	stats := ComputeStats("bot-1", execs)

	summary := SessionSummary{}
	for _, e := range execs {
		summary.Apply(e.RealizedPnL, e.Fee)
	}

	assert.Equal(t, 2, stats.TradeCount)
	assert.Equal(t, summary.TradeCount, stats.TradeCount)
	assert.Equal(t, summary.WinCount, stats.WinCount)
	assert.True(t, summary.WinRate.Equal(stats.WinRate))
	assert.True(t, summary.TotalPnL.Equal(stats.TotalPnL))
	assert.True(t, summary.TotalFees.Equal(stats.TotalFees))
	assert.True(t, stats.AvgPnL.Equal(d("1.5")))
}

func TestComputeStats_ProfitFactor(t *testing.T) {
	tests := []struct {
		name  string
		execs []Execution
		want  string // empty means nil
	}{
		{name: "no_trades", execs: nil},
		{name: "only_zero_pnl_sells", execs: []Execution{sellWithPnL("0")}},
		{name: "only_wins", execs: []Execution{sellWithPnL("4")}},
		{name: "wins_and_losses", execs: []Execution{sellWithPnL("6"), sellWithPnL("-3")}, want: "2"},
		{name: "only_losses", execs: []Execution{sellWithPnL("-3")}, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := ComputeStats("bot-1", tt.execs)
			if tt.want == "" {
				assert.Nil(t, stats.ProfitFactor)
				return
			}
			require.NotNil(t, stats.ProfitFactor)
			assert.True(t, stats.ProfitFactor.Equal(d(tt.want)), "profit factor = %s", stats.ProfitFactor)
		})
	}
}

package strategy

import (
	"errors"
	"testing"

	"github.com/mselser95/botledger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func botWith(id, symbol string, params map[string]any) *ledger.Bot {
	return &ledger.Bot{
		ID: "bot-1",
		Config: ledger.BotConfig{
			GlobalSettings: ledger.GlobalSettings{Exchange: "key", Symbol: symbol},
			Pipeline:       ledger.Pipeline{Strategy: ledger.StrategyNode{ID: id, Params: params}},
		},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		bot      *ledger.Bot
		wantKind Kind
		wantErr  error
	}{
		{
			name:     "orderflow",
			bot:      botWith("orderflow_exhaustion_v1", "BTC/USDT", map[string]any{"cooldown_sec": 10.0}),
			wantKind: KindOrderflowExhaustion,
		},
		{
			name:     "test_trading",
			bot:      botWith("test_trading_v1", "ETH/USDT", nil),
			wantKind: KindTestTrading,
		},
		{
			name:    "unknown",
			bot:     botWith("grid_v9", "BTC/USDT", nil),
			wantErr: ErrUnknownStrategy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.bot)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, s.Kind())
		})
	}
}

func TestNew_RequiresSymbol(t *testing.T) {
	_, err := New(botWith("test_trading_v1", "", nil))
	assert.Error(t, err)
}

func TestNew_InvalidParams(t *testing.T) {
	_, err := New(botWith("orderflow_exhaustion_v1", "BTC/USDT", map[string]any{"depth_limit": "many"}))
	assert.Error(t, err)
}

func TestKinds(t *testing.T) {
	for _, k := range Kinds() {
		bot := botWith(string(k), "BTC/USDT", nil)
		s, err := New(bot)
		require.NoError(t, err)
		assert.Equal(t, k, s.Kind())
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(botWith(string(KindTestTrading), "BTC/USDT", nil).Config))

	err := Validate(botWith("nope", "BTC/USDT", nil).Config)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	assert.Error(t, Validate(botWith(string(KindTestTrading), "", nil).Config))
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/internal/strategy"
	"github.com/mselser95/botledger/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSymbol = "BTC/USDT"

// recordFailingStore fails every fill commit.
type recordFailingStore struct {
	*ledger.Store
}

func (s *recordFailingStore) RecordFill(context.Context, string, ledger.Fill) (*ledger.Execution, bool, error) {
	return nil, false, errors.New("disk full")
}

func testRunnerConfig() RunnerConfig {
	return RunnerConfig{
		TickInterval:      time.Hour,
		StopCheckInterval: 10 * time.Millisecond,
		ErrorBackoff:      10 * time.Millisecond,
		StopGrace:         5 * time.Second,
	}
}

func newMarket() *testutil.MockExchange {
	ex := testutil.NewMockExchange()
	ex.SetBalance("test-account", "USDT", testutil.D("1000"))
	ex.SetBalance("test-account", "BTC", testutil.D("5"))
	ex.SetTicker(exchange.Ticker{Symbol: testSymbol, Price: testutil.D("100")})
	return ex
}

func testTradingBot(t *testing.T, store *ledger.Store, params map[string]any) *ledger.Bot {
	t.Helper()
	bot, err := store.CreateBot(context.Background(), "tester",
		testutil.BotConfig(string(strategy.KindTestTrading), testSymbol, params))
	require.NoError(t, err)
	return bot
}

func startRunner(t *testing.T, r *Runner) {
	t.Helper()
	go r.Run(context.Background())
	t.Cleanup(func() {
		r.Detach()
		<-r.Done()
	})
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not exit")
	}
}

func waitStatus(t *testing.T, store *ledger.Store, botID string, status ledger.BotStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		bot, err := store.GetBot(context.Background(), botID)
		return err == nil && bot.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func lastSession(t *testing.T, store *ledger.Store, botID string) ledger.Session {
	t.Helper()
	sessions, err := store.ListSessions(context.Background(), botID)
	require.NoError(t, err)
	require.NotEmpty(t, sessions)
	return sessions[0]
}

func TestRunner_BootFailsOnUnknownStrategy(t *testing.T) {
	store := testutil.NewLedger(t)
	bot, err := store.CreateBot(context.Background(), "broken",
		testutil.BotConfig("does_not_exist", testSymbol, nil))
	require.NoError(t, err)

	r := NewRunner(*bot, store, newMarket(), testRunnerConfig(), zaptest.NewLogger(t))
	r.Run(context.Background())

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Contains(t, got.StatusMessage, "unknown strategy")

	session := lastSession(t, store, bot.ID)
	assert.Equal(t, ledger.SessionEnded, session.Status)
	assert.NotNil(t, session.EndTime)
}

func TestRunner_BootFailsOnUnreconciledCommit(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{"hold_duration": 3600})
	ex := newMarket()

	r := NewRunner(*bot, &recordFailingStore{Store: store}, ex, testRunnerConfig(), zaptest.NewLogger(t))
	r.Run(context.Background())

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Contains(t, got.StatusMessage, "LedgerCommitFailed")
	assert.Len(t, ex.PlacedOrders(), 1)

	session := lastSession(t, store, bot.ID)
	assert.Equal(t, ledger.SessionEnded, session.Status)
}

func TestRunner_BootTickFailureStops(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, nil)
	ex := newMarket()
	ex.SetBalance("test-account", "USDT", testutil.D("0"))

	r := NewRunner(*bot, store, ex, testRunnerConfig(), zaptest.NewLogger(t))
	r.Run(context.Background())

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Contains(t, got.StatusMessage, "StrategyTickError")
	assert.Empty(t, ex.PlacedOrders())
}

func TestRunner_RunsAndStopsWithLiquidation(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{"hold_duration": 3600, "allocation_ratio": 0.5})
	ex := newMarket()

	r := NewRunner(*bot, store, ex, testRunnerConfig(), zaptest.NewLogger(t))
	startRunner(t, r)
	waitStatus(t, store, bot.ID, ledger.BotRunning)

	// boot tick bought 500 USDT worth at 100
	placed := ex.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, exchange.SideBuy, placed[0].Side)
	assert.True(t, placed[0].Amount.Equal(testutil.D("5")))

	r.RequestStop()
	assert.True(t, r.Stopping())
	waitDone(t, r)

	placed = ex.PlacedOrders()
	require.Len(t, placed, 2)
	assert.Equal(t, exchange.SideSell, placed[1].Side)
	assert.True(t, placed[1].Amount.Equal(testutil.D("5")))

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Empty(t, got.StatusMessage)

	session := lastSession(t, store, bot.ID)
	assert.Equal(t, ledger.SessionEnded, session.Status)

	orders, err := store.ListOrders(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestRunner_StopWithExhaustedLiquidationStillStops(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{
		"hold_duration":               3600,
		"liquidation_max_retries":     3,
		"liquidation_retry_delay_sec": 0.01,
	})
	ex := newMarket()

	r := NewRunner(*bot, store, ex, testRunnerConfig(), zaptest.NewLogger(t))
	startRunner(t, r)
	waitStatus(t, store, bot.ID, ledger.BotRunning)

	ex.FailPlace(errors.New("exchange down"))
	r.RequestStop()
	waitDone(t, r)

	// one boot buy plus three liquidation attempts
	assert.Len(t, ex.PlacedOrders(), 4)

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Contains(t, got.StatusMessage, "LiquidationExhausted")

	session := lastSession(t, store, bot.ID)
	assert.Equal(t, ledger.SessionEnded, session.Status)
}

func TestRunner_StopGraceCancelsStopHook(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{
		"hold_duration":               3600,
		"liquidation_max_retries":     3,
		"liquidation_retry_delay_sec": 3600,
	})
	ex := newMarket()

	cfg := testRunnerConfig()
	cfg.StopGrace = 50 * time.Millisecond

	r := NewRunner(*bot, store, ex, cfg, zaptest.NewLogger(t))
	startRunner(t, r)
	waitStatus(t, store, bot.ID, ledger.BotRunning)

	ex.FailPlace(errors.New("exchange down"))
	start := time.Now()
	r.RequestStop()
	waitDone(t, r)

	assert.Less(t, time.Since(start), 5*time.Second)

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Contains(t, got.StatusMessage, "LiquidationExhausted")
}

func TestRunner_DetachKeepsStatus(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{"hold_duration": 3600})
	ex := newMarket()

	r := NewRunner(*bot, store, ex, testRunnerConfig(), zaptest.NewLogger(t))
	startRunner(t, r)
	waitStatus(t, store, bot.ID, ledger.BotRunning)

	r.Detach()
	waitDone(t, r)

	// no liquidation on detach
	assert.Len(t, ex.PlacedOrders(), 1)

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotRunning, got.Status)

	session := lastSession(t, store, bot.ID)
	assert.Equal(t, ledger.SessionEnded, session.Status)
}

func TestRunner_ParentCancelDetaches(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{"hold_duration": 3600})

	r := NewRunner(*bot, store, newMarket(), testRunnerConfig(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	waitStatus(t, store, bot.ID, ledger.BotRunning)

	cancel()
	waitDone(t, r)

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotRunning, got.Status)
}

type panicStrategy struct{}

func (panicStrategy) Kind() strategy.Kind { return "panic" }

func (panicStrategy) Execute(context.Context, *strategy.TickContext) error {
	panic("boom")
}

func (panicStrategy) OnStop(context.Context, *strategy.TickContext) error { return nil }

func TestRunner_TickRecoversPanic(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, nil)
	r := NewRunner(*bot, store, newMarket(), testRunnerConfig(), zaptest.NewLogger(t))

	err := r.tick(context.Background(), panicStrategy{}, &strategy.TickContext{Bot: bot, Logger: zaptest.NewLogger(t)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStrategyTick))
	assert.Contains(t, err.Error(), "boom")
}

func TestRunner_WaitReturnsOnStop(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, nil)
	r := NewRunner(*bot, store, newMarket(), testRunnerConfig(), zaptest.NewLogger(t))

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.RequestStop()
	}()

	start := time.Now()
	reason := r.wait(context.Background(), time.Hour)
	assert.Equal(t, exitStop, reason)
	assert.Less(t, time.Since(start), time.Second)

	// repeated requests are no-ops
	r.RequestStop()
	r.Detach()
	r.Detach()
}

func TestRunner_WaitElapses(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, nil)
	r := NewRunner(*bot, store, newMarket(), testRunnerConfig(), zaptest.NewLogger(t))

	assert.Equal(t, exitNone, r.wait(context.Background(), 30*time.Millisecond))
}

// blockFirstPlace holds the first order until release is closed and fills
// every order at price.
func blockFirstPlace(ex *testutil.MockExchange, price decimal.Decimal) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	n := 0
	ex.OnPlace(func(req exchange.OrderRequest) (*exchange.OrderResponse, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		n++
		return &exchange.OrderResponse{
			Status:       exchange.StatusFilled,
			OrderID:      fmt.Sprintf("blocked-order-%d", n),
			Side:         req.Side,
			AveragePrice: price,
			Price:        price,
			Filled:       req.Amount,
			Cost:         price.Mul(req.Amount),
			TransactTime: time.Now().UTC(),
			Fills: []exchange.Fill{{
				TradeID: fmt.Sprintf("blocked-trade-%d", n),
				Price:   price,
				Qty:     req.Amount,
			}},
		}, nil
	})
	return entered, release
}

func TestRunner_StopRequestedDuringBootLiquidates(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{"hold_duration": 3600, "allocation_ratio": 0.5})
	ex := newMarket()
	entered, release := blockFirstPlace(ex, testutil.D("100"))

	r := NewRunner(*bot, store, ex, testRunnerConfig(), zaptest.NewLogger(t))
	startRunner(t, r)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("boot tick never placed an order")
	}

	stopping, err := store.RequestStop(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.BotStopping, stopping.Status)

	close(release)
	waitDone(t, r)

	got, err := store.GetBot(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Empty(t, got.StatusMessage)
	assert.True(t, r.Stopping())

	placed := ex.PlacedOrders()
	require.Len(t, placed, 2)
	assert.Equal(t, exchange.SideBuy, placed[0].Side)
	assert.Equal(t, exchange.SideSell, placed[1].Side)
	assert.True(t, placed[1].Amount.Equal(placed[0].Amount))

	positions, err := store.NetPositions(context.Background(), bot.ID)
	require.NoError(t, err)
	for _, p := range positions {
		assert.True(t, p.NetQty.IsZero(), "position in %s left open: %s", p.Symbol, p.NetQty)
	}

	session := lastSession(t, store, bot.ID)
	assert.Equal(t, ledger.SessionEnded, session.Status)
}

func TestRunner_StopRequestedBeforeBootSkipsTrading(t *testing.T) {
	store := testutil.NewLedger(t)
	bot := testTradingBot(t, store, map[string]any{"hold_duration": 3600})
	ctx := context.Background()

	_, err := store.RequestStart(ctx, bot.ID)
	require.NoError(t, err)
	_, err = store.RequestStop(ctx, bot.ID)
	require.NoError(t, err)

	ex := newMarket()
	r := NewRunner(*bot, store, ex, testRunnerConfig(), zaptest.NewLogger(t))
	r.Run(ctx)

	got, err := store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BotStopped, got.Status)
	assert.Empty(t, ex.PlacedOrders())

	sessions, err := store.ListSessions(ctx, bot.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

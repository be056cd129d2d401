package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mselser95/botledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUpstream = errors.New("upstream 503")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, threshold int) (*Breaker, *fakeClock) {
	t.Helper()
	b, err := New(&Config{
		Name:             "test",
		FailureThreshold: threshold,
		Cooldown:         10 * time.Second,
		Logger:           zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b.now = clock.now
	return b, clock
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"nil logger", &Config{FailureThreshold: 1, Cooldown: time.Second}},
		{"zero threshold", &Config{Cooldown: time.Second, Logger: logger}},
		{"zero cooldown", &Config{FailureThreshold: 1, Logger: logger}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3)

	for range 2 {
		require.NoError(t, b.Allow())
		b.Record(errUpstream)
	}
	assert.Equal(t, "closed", b.GetStatus().State)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)

	status := b.GetStatus()
	assert.Equal(t, "open", status.State)
	assert.Equal(t, 3, status.ConsecutiveFailures)
	assert.Equal(t, errUpstream.Error(), status.LastError)

	err := b.Allow()
	require.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(t, 2)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	require.NoError(t, b.Allow())
	b.Record(nil)
	require.NoError(t, b.Allow())
	b.Record(errUpstream)

	assert.Equal(t, "closed", b.GetStatus().State)
	assert.Equal(t, 1, b.GetStatus().ConsecutiveFailures)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(t, 1)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	require.ErrorIs(t, b.Allow(), ErrOpen)

	clock.advance(11 * time.Second)

	require.NoError(t, b.Allow(), "first call after cooldown is the probe")
	assert.Equal(t, "half-open", b.GetStatus().State)
	require.ErrorIs(t, b.Allow(), ErrOpen, "only one probe at a time")

	b.Record(nil)
	assert.Equal(t, "closed", b.GetStatus().State)
	require.NoError(t, b.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(t, 5)

	for range 5 {
		require.NoError(t, b.Allow())
		b.Record(errUpstream)
	}
	clock.advance(11 * time.Second)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)

	assert.Equal(t, "open", b.GetStatus().State)
	assert.Equal(t, clock.t, b.GetStatus().OpenedAt)
	require.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestGuardedAdapter_MarketDataTripsButOrdersPass(t *testing.T) {
	b, _ := newTestBreaker(t, 2)
	mock := testutil.NewMockExchange()
	mock.SetPrice("BTC/USDT", testutil.D("100"))
	mock.SetBalance("acct", "USDT", testutil.D("1000"))
	g := Guard(mock, b)
	ctx := context.Background()

	tk, err := g.GetTicker(ctx, "acct", "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, tk.Price.Equal(testutil.D("100")))

	mock.FailTicker(errUpstream)
	for range 2 {
		_, err = g.GetTicker(ctx, "acct", "BTC/USDT")
		require.ErrorIs(t, err, errUpstream)
	}

	_, err = g.GetTicker(ctx, "acct", "BTC/USDT")
	require.ErrorIs(t, err, ErrOpen)
	_, err = g.GetDepth(ctx, "acct", "BTC/USDT", 10)
	require.ErrorIs(t, err, ErrOpen)
	_, err = g.GetTrades(ctx, "acct", "BTC/USDT", 10)
	require.ErrorIs(t, err, ErrOpen)

	balances, err := g.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, balances, 1)
}

func TestGuardedAdapter_CancelledHalfOpenCallKeepsFailures(t *testing.T) {
	b, clock := newTestBreaker(t, 2)
	mock := testutil.NewMockExchange()
	mock.FailTicker(errUpstream)
	g := Guard(mock, b)

	for range 2 {
		_, err := g.GetTicker(context.Background(), "acct", "BTC/USDT")
		require.ErrorIs(t, err, errUpstream)
	}
	require.Equal(t, "open", b.GetStatus().State)

	clock.advance(11 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock.FailTicker(context.Canceled)
	_, err := g.GetTicker(ctx, "acct", "BTC/USDT")
	require.Error(t, err)

	status := b.GetStatus()
	assert.Equal(t, "half-open", status.State)
	assert.Equal(t, 2, status.ConsecutiveFailures)
	assert.Equal(t, errUpstream.Error(), status.LastError)

	// the slot was returned, so the next caller becomes the probe
	mock.FailTicker(errUpstream)
	_, err = g.GetTicker(context.Background(), "acct", "BTC/USDT")
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "open", b.GetStatus().State)
}

func TestBreaker_ReleaseFreesProbeSlot(t *testing.T) {
	b, clock := newTestBreaker(t, 1)

	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	clock.advance(11 * time.Second)

	require.NoError(t, b.Allow())
	require.ErrorIs(t, b.Allow(), ErrOpen)

	b.Release()
	assert.Equal(t, "half-open", b.GetStatus().State)
	assert.Equal(t, 1, b.GetStatus().ConsecutiveFailures)
	require.NoError(t, b.Allow())
}

func TestGuardedAdapter_CancelledCallerDoesNotTrip(t *testing.T) {
	b, _ := newTestBreaker(t, 1)
	mock := testutil.NewMockExchange()
	mock.FailTicker(context.Canceled)
	g := Guard(mock, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.GetTicker(ctx, "acct", "BTC/USDT")
	require.Error(t, err)
	assert.Equal(t, "closed", b.GetStatus().State)
}

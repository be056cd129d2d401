package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mselser95/botledger/internal/ledger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// NewLedger opens a migrated sqlite ledger in the test's temp dir.
func NewLedger(t *testing.T) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(&ledger.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// SeedBot creates a bot with cfg and an active session.
func SeedBot(t *testing.T, store *ledger.Store, cfg ledger.BotConfig) (*ledger.Bot, *ledger.Session) {
	t.Helper()
	ctx := context.Background()

	bot, err := store.CreateBot(ctx, "test-bot", cfg)
	require.NoError(t, err)

	session, err := store.StartSession(ctx, bot.ID)
	require.NoError(t, err)

	return bot, session
}

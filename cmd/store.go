package cmd

import (
	"context"
	"fmt"

	"github.com/mselser95/botledger/internal/app"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/pkg/config"
	"go.uber.org/zap"
)

// openStore loads configuration and opens the migrated ledger for one-shot
// commands. The returned func closes the store and flushes the logger.
func openStore(ctx context.Context) (*ledger.Store, *zap.Logger, func(), error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	store, err := app.OpenLedger(ctx, cfg, logger, true)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}

	return store, logger, func() {
		_ = store.Close()
		_ = logger.Sync()
	}, nil
}

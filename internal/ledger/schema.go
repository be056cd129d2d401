package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Decimal columns are TEXT on sqlite to keep exact values; postgres uses NUMERIC.
//
//nolint:gochecknoglobals // migration tables
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'STOPPED',
		status_message TEXT,
		config_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status)`,
	`CREATE TABLE IF NOT EXISTS bot_sessions (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		status TEXT NOT NULL,
		total_pnl TEXT NOT NULL DEFAULT '0',
		trade_count INTEGER NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		win_rate TEXT NOT NULL DEFAULT '0',
		total_fees TEXT NOT NULL DEFAULT '0'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_sessions_bot ON bot_sessions(bot_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bot_sessions_one_active ON bot_sessions(bot_id) WHERE status = 'ACTIVE'`,
	`CREATE TABLE IF NOT EXISTS local_orders (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		session_id TEXT REFERENCES bot_sessions(id) ON DELETE CASCADE,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_local_orders_bot ON local_orders(bot_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_local_orders_session ON local_orders(session_id)`,
	`CREATE TABLE IF NOT EXISTS executions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		local_order_id TEXT NOT NULL REFERENCES local_orders(id) ON DELETE CASCADE,
		bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		exchange_order_id TEXT NOT NULL DEFAULT '',
		order_list_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		quote_qty TEXT NOT NULL DEFAULT '0',
		fee TEXT NOT NULL DEFAULT '0',
		fee_asset TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL,
		remaining_qty TEXT NOT NULL DEFAULT '0',
		is_open INTEGER NOT NULL DEFAULT 0,
		realized_pnl TEXT NOT NULL DEFAULT '0',
		unmatched_qty TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_lots ON executions(bot_id, symbol, side, is_open, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_order ON executions(local_order_id)`,
}

//nolint:gochecknoglobals // migration tables
var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'STOPPED',
		config_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE bots ADD COLUMN IF NOT EXISTS status_message TEXT`,
	`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status)`,
	`CREATE TABLE IF NOT EXISTS bot_sessions (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		status TEXT NOT NULL,
		total_pnl NUMERIC NOT NULL DEFAULT 0,
		trade_count INTEGER NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		win_rate NUMERIC NOT NULL DEFAULT 0,
		total_fees NUMERIC NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_sessions_bot ON bot_sessions(bot_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bot_sessions_one_active ON bot_sessions(bot_id) WHERE status = 'ACTIVE'`,
	`CREATE TABLE IF NOT EXISTS local_orders (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		session_id TEXT REFERENCES bot_sessions(id) ON DELETE CASCADE,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_local_orders_bot ON local_orders(bot_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_local_orders_session ON local_orders(session_id)`,
	`CREATE TABLE IF NOT EXISTS executions (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		local_order_id TEXT NOT NULL REFERENCES local_orders(id) ON DELETE CASCADE,
		bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		exchange_order_id TEXT NOT NULL DEFAULT '',
		order_list_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price NUMERIC NOT NULL,
		quantity NUMERIC NOT NULL,
		quote_qty NUMERIC NOT NULL DEFAULT 0,
		fee NUMERIC NOT NULL DEFAULT 0,
		fee_asset TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMPTZ NOT NULL,
		remaining_qty NUMERIC NOT NULL DEFAULT 0 CHECK (remaining_qty >= 0),
		is_open SMALLINT NOT NULL DEFAULT 0,
		realized_pnl NUMERIC NOT NULL DEFAULT 0,
		unmatched_qty NUMERIC NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE executions ADD COLUMN IF NOT EXISTS unmatched_qty NUMERIC NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS idx_executions_lots ON executions(bot_id, symbol, side, is_open, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_order ON executions(local_order_id)`,
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := sqliteMigrations
	if s.dialect == DialectPostgres {
		migrations = postgresMigrations
	}

	for i, m := range migrations {
		_, err := s.db.ExecContext(ctx, m)
		if err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	s.logger.Info("ledger-migrations-applied",
		zap.String("dialect", string(s.dialect)),
		zap.Int("count", len(migrations)))

	return nil
}

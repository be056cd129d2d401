package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const sessionColumns = `id, bot_id, start_time, end_time, status, total_pnl, trade_count, win_count, win_rate, total_fees`

// StartSession opens a new ACTIVE session for the bot. Any session still
// ACTIVE is closed as CRASHED first so at most one is ever active.
func (s *Store) StartSession(ctx context.Context, botID string) (*Session, error) {
	now := s.now()
	session := &Session{
		ID:        uuid.NewString(),
		BotID:     botID,
		StartTime: now,
		Status:    SessionActive,
		Summary:   SessionSummary{TotalPnL: decimal.Zero, WinRate: decimal.Zero, TotalFees: decimal.Zero},
	}

	var staleCount int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM bots WHERE id = ?`), botID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("bot %s: %w", botID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check bot: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE bot_sessions SET status = ?, end_time = ?
			WHERE bot_id = ? AND status = ?`),
			string(SessionCrashed), now, botID, string(SessionActive))
		if err != nil {
			return fmt.Errorf("end stale sessions: %w", err)
		}
		staleCount, _ = res.RowsAffected()

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO bot_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			session.ID, botID, now, nullTime(nil), string(SessionActive),
			decimal.Zero, 0, 0, decimal.Zero, decimal.Zero)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if staleCount > 0 {
		s.logger.Warn("stale-session-force-ended",
			zap.String("bot-id", botID),
			zap.Int64("count", staleCount))
	}

	s.logger.Info("session-started",
		zap.String("bot-id", botID),
		zap.String("session-id", session.ID))

	return session, nil
}

// EndSession closes the bot's ACTIVE session with the given status.
// It returns nil without error when no session is active.
func (s *Store) EndSession(ctx context.Context, botID string, status SessionStatus) (*Session, error) {
	active, err := s.ActiveSession(ctx, botID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE bot_sessions SET status = ?, end_time = ? WHERE id = ? AND status = ?`),
		string(status), now, active.ID, string(SessionActive))
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	active.Status = status
	active.EndTime = &now

	s.logger.Info("session-ended",
		zap.String("bot-id", botID),
		zap.String("session-id", active.ID),
		zap.String("status", string(status)),
		zap.String("total-pnl", active.Summary.TotalPnL.String()))

	return active, nil
}

// ActiveSession returns the bot's ACTIVE session or ErrNotFound.
func (s *Store) ActiveSession(ctx context.Context, botID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+sessionColumns+` FROM bot_sessions
		WHERE bot_id = ? AND status = ?
		ORDER BY start_time DESC LIMIT 1`),
		botID, string(SessionActive))

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active session for bot %s: %w", botID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return session, nil
}

// GetSession returns one session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM bot_sessions WHERE id = ?`), id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns a bot's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, botID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+sessionColumns+` FROM bot_sessions
		WHERE bot_id = ? ORDER BY start_time DESC`), botID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan session: %w", scanErr)
		}
		sessions = append(sessions, *session)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SessionOrders returns the session's orders with their executions.
func (s *Store) SessionOrders(ctx context.Context, sessionID string) ([]OrderWithExecutions, error) {
	orders, err := s.queryOrders(ctx, `WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}

	execs, err := s.queryExecutions(ctx, s.db, `WHERE lo.session_id = ? ORDER BY e.timestamp, e.seq`, sessionID)
	if err != nil {
		return nil, err
	}

	byOrder := make(map[string][]Execution, len(orders))
	for _, e := range execs {
		byOrder[e.LocalOrderID] = append(byOrder[e.LocalOrderID], e)
	}

	result := make([]OrderWithExecutions, 0, len(orders))
	for _, o := range orders {
		result = append(result, OrderWithExecutions{
			LocalOrder: o,
			Executions: byOrder[o.ID],
		})
	}
	return result, nil
}

// RebuildSessionSummary recomputes the cached summary from the session's
// executions and stores it.
func (s *Store) RebuildSessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	var summary SessionSummary

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		execs, err := s.queryExecutions(ctx, tx, `WHERE lo.session_id = ? ORDER BY e.timestamp, e.seq`, sessionID)
		if err != nil {
			return err
		}

		for _, e := range execs {
			summary.Apply(e.RealizedPnL, e.Fee)
		}

		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE bot_sessions
			SET total_pnl = ?, trade_count = ?, win_count = ?, win_rate = ?, total_fees = ?
			WHERE id = ?`),
			summary.TotalPnL, summary.TradeCount, summary.WinCount, summary.WinRate, summary.TotalFees, sessionID)
		if err != nil {
			return fmt.Errorf("update session summary: %w", err)
		}
		return requireAffected(res, "session", sessionID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session-summary-rebuilt",
		zap.String("session-id", sessionID),
		zap.String("total-pnl", summary.TotalPnL.String()),
		zap.Int("trade-count", summary.TradeCount))

	return &summary, nil
}

// applySessionSummary folds one execution into the cached summary inside tx.
func (s *Store) applySessionSummary(ctx context.Context, tx *sql.Tx, sessionID string, pnl, fee decimal.Decimal) error {
	row := tx.QueryRowContext(ctx, s.q(`
		SELECT total_pnl, trade_count, win_count, win_rate, total_fees
		FROM bot_sessions WHERE id = ?`+s.forUpdate()), sessionID)

	var summary SessionSummary
	err := row.Scan(&summary.TotalPnL, &summary.TradeCount, &summary.WinCount, &summary.WinRate, &summary.TotalFees)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load session summary: %w", err)
	}

	summary.Apply(pnl, fee)

	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE bot_sessions
		SET total_pnl = ?, trade_count = ?, win_count = ?, win_rate = ?, total_fees = ?
		WHERE id = ?`),
		summary.TotalPnL, summary.TradeCount, summary.WinCount, summary.WinRate, summary.TotalFees, sessionID)
	if err != nil {
		return fmt.Errorf("update session summary: %w", err)
	}
	return nil
}

func scanSession(row scanner) (*Session, error) {
	var (
		session Session
		endTime sql.NullTime
		status  string
	)

	err := row.Scan(
		&session.ID, &session.BotID, &session.StartTime, &endTime, &status,
		&session.Summary.TotalPnL, &session.Summary.TradeCount, &session.Summary.WinCount,
		&session.Summary.WinRate, &session.Summary.TotalFees,
	)
	if err != nil {
		return nil, err
	}

	session.StartTime = session.StartTime.UTC()
	session.EndTime = timePtr(endTime)
	session.Status = SessionStatus(status)
	return &session, nil
}

// insertBackfillSession is used by BackfillSessions.
func (s *Store) insertBackfillSession(ctx context.Context, tx *sql.Tx, botID string, start, end time.Time) (string, error) {
	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO bot_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, botID, start.UTC(), nullTime(&end), string(SessionEnded),
		decimal.Zero, 0, 0, decimal.Zero, decimal.Zero)
	if err != nil {
		return "", fmt.Errorf("insert backfill session: %w", err)
	}
	return id, nil
}

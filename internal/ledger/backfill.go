package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	backfillLeadIn  = time.Second
	backfillLeadOut = 5 * time.Minute
)

// BackfillSessions groups orders that were recorded without a session into
// ENDED sessions. Consecutive orders of a bot further apart than gap start a
// new session. Returns the ids of the sessions created.
func (s *Store) BackfillSessions(ctx context.Context, gap time.Duration) ([]string, error) {
	if gap <= 0 {
		return nil, fmt.Errorf("backfill gap must be positive, got %s", gap)
	}

	orphans, err := s.queryOrders(ctx, `WHERE session_id IS NULL ORDER BY bot_id, created_at, id`)
	if err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		s.logger.Info("backfill-no-orphan-orders")
		return nil, nil
	}

	groups := groupOrders(orphans, gap)

	var created []string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, g := range groups {
			first := g[0].CreatedAt
			last := g[len(g)-1].CreatedAt

			id, txErr := s.insertBackfillSession(ctx, tx, g[0].BotID, first.Add(-backfillLeadIn), last.Add(backfillLeadOut))
			if txErr != nil {
				return txErr
			}

			for _, o := range g {
				_, txErr = tx.ExecContext(ctx, s.q(`UPDATE local_orders SET session_id = ? WHERE id = ?`), id, o.ID)
				if txErr != nil {
					return fmt.Errorf("link order %s: %w", o.ID, txErr)
				}
			}
			created = append(created, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range created {
		_, err = s.RebuildSessionSummary(ctx, id)
		if err != nil {
			return created, fmt.Errorf("rebuild backfilled session %s: %w", id, err)
		}
	}

	s.logger.Info("backfill-sessions-complete",
		zap.Int("orphan-orders", len(orphans)),
		zap.Int("sessions-created", len(created)))

	return created, nil
}

// groupOrders splits orders (sorted by bot then time) into per-bot runs
// separated by more than gap.
func groupOrders(orders []LocalOrder, gap time.Duration) [][]LocalOrder {
	var (
		groups  [][]LocalOrder
		current []LocalOrder
	)

	for _, o := range orders {
		if len(current) > 0 {
			prev := current[len(current)-1]
			if prev.BotID != o.BotID || o.CreatedAt.Sub(prev.CreatedAt) > gap {
				groups = append(groups, current)
				current = nil
			}
		}
		current = append(current, o)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	return groups
}

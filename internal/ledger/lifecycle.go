package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RequestStart moves a STOPPED bot to BOOTING. The supervisor picks it up
// on its next reconciliation.
func (s *Store) RequestStart(ctx context.Context, id string) (*Bot, error) {
	return s.transition(ctx, id, BotBooting, []BotStatus{BotStopped})
}

// RequestStop moves a RUNNING or BOOTING bot to STOPPING. A bot already
// STOPPING is returned unchanged.
func (s *Store) RequestStop(ctx context.Context, id string) (*Bot, error) {
	bot, err := s.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if bot.Status == BotStopping {
		return bot, nil
	}
	return s.transition(ctx, id, BotStopping, []BotStatus{BotRunning, BotBooting})
}

// TransitionBotStatus sets the bot's status to to only when it is currently
// one of from. A mismatch returns the current bot and ErrInvalidTransition.
func (s *Store) TransitionBotStatus(ctx context.Context, id string, to BotStatus, from ...BotStatus) (*Bot, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no source status for %s", ErrInvalidTransition, to)
	}
	return s.transition(ctx, id, to, from)
}

// transition sets status to only when the current status is in from,
// checked in the same statement as the write.
func (s *Store) transition(ctx context.Context, id string, to BotStatus, from []BotStatus) (*Bot, error) {
	args := []any{string(to), s.now(), id}
	placeholders := ""
	for i, st := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE bots SET status = ?, status_message = NULL, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("update bot status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	bot, err := s.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return bot, fmt.Errorf("%w: bot %s is %s", ErrInvalidTransition, id, bot.Status)
	}

	s.logger.Info("bot-status-transitioned",
		zap.String("bot-id", id),
		zap.String("status", string(to)))

	return bot, nil
}

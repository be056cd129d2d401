package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const botColumns = `id, name, status, status_message, config_json, created_at, updated_at`

// ListBotsFilter narrows ListBots. Zero Limit means no limit.
type ListBotsFilter struct {
	Statuses []BotStatus
	Offset   int
	Limit    int
}

// CreateBot inserts a new STOPPED bot.
func (s *Store) CreateBot(ctx context.Context, name string, cfg BotConfig) (*Bot, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("bot name cannot be empty")
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal bot config: %w", err)
	}

	now := s.now()
	bot := &Bot{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    BotStopped,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO bots (id, name, status, status_message, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		bot.ID, bot.Name, string(bot.Status), nullString(""), string(configJSON), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert bot: %w", err)
	}

	s.logger.Info("bot-created",
		zap.String("bot-id", bot.ID),
		zap.String("bot-name", bot.Name),
		zap.String("strategy", cfg.Pipeline.Strategy.ID))

	return bot, nil
}

// GetBot returns one bot or ErrNotFound.
func (s *Store) GetBot(ctx context.Context, id string) (*Bot, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+botColumns+` FROM bots WHERE id = ?`), id)

	bot, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bot: %w", err)
	}

	return bot, nil
}

// ListBots returns bots ordered by creation time.
func (s *Store) ListBots(ctx context.Context, filter ListBotsFilter) ([]Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots`
	args := make([]any, 0, len(filter.Statuses)+2)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}

	query += ` ORDER BY created_at, id`

	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []Bot
	for rows.Next() {
		bot, scanErr := scanBot(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan bot: %w", scanErr)
		}
		bots = append(bots, *bot)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate bots: %w", err)
	}

	return bots, nil
}

// UpdateBot changes a bot's name and/or configuration. Empty name or nil
// config leaves the field unchanged.
func (s *Store) UpdateBot(ctx context.Context, id string, name string, cfg *BotConfig) (*Bot, error) {
	bot, err := s.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(name) != "" {
		bot.Name = name
	}
	if cfg != nil {
		bot.Config = *cfg
	}

	configJSON, err := json.Marshal(bot.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal bot config: %w", err)
	}

	bot.UpdatedAt = s.now()
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE bots SET name = ?, config_json = ?, updated_at = ? WHERE id = ?`),
		bot.Name, string(configJSON), bot.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update bot: %w", err)
	}

	return bot, nil
}

// DeleteBot removes a bot with its sessions, orders and executions.
func (s *Store) DeleteBot(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM executions WHERE bot_id = ?`,
			`DELETE FROM local_orders WHERE bot_id = ?`,
			`DELETE FROM bot_sessions WHERE bot_id = ?`,
		} {
			_, execErr := tx.ExecContext(ctx, s.q(stmt), id)
			if execErr != nil {
				return fmt.Errorf("delete bot children: %w", execErr)
			}
		}

		res, execErr := tx.ExecContext(ctx, s.q(`DELETE FROM bots WHERE id = ?`), id)
		if execErr != nil {
			return fmt.Errorf("delete bot: %w", execErr)
		}
		return requireAffected(res, "bot", id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("bot-deleted", zap.String("bot-id", id))
	return nil
}

// SetBotStatus sets the lifecycle status and replaces the status message.
func (s *Store) SetBotStatus(ctx context.Context, id string, status BotStatus, message string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE bots SET status = ?, status_message = ?, updated_at = ? WHERE id = ?`),
		string(status), nullString(message), s.now(), id)
	if err != nil {
		return fmt.Errorf("update bot status: %w", err)
	}

	err = requireAffected(res, "bot", id)
	if err != nil {
		return err
	}

	s.logger.Debug("bot-status-updated",
		zap.String("bot-id", id),
		zap.String("status", string(status)),
		zap.String("status-message", message))

	return nil
}

// SetBotStatusMessage replaces the status message without touching status.
func (s *Store) SetBotStatusMessage(ctx context.Context, id string, message string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE bots SET status_message = ?, updated_at = ? WHERE id = ?`),
		nullString(message), s.now(), id)
	if err != nil {
		return fmt.Errorf("update bot status message: %w", err)
	}
	return requireAffected(res, "bot", id)
}

func scanBot(row scanner) (*Bot, error) {
	var (
		bot        Bot
		status     string
		message    sql.NullString
		configJSON string
	)

	err := row.Scan(&bot.ID, &bot.Name, &status, &message, &configJSON, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return nil, err
	}

	bot.Status = BotStatus(status)
	bot.StatusMessage = message.String
	bot.CreatedAt = bot.CreatedAt.UTC()
	bot.UpdatedAt = bot.UpdatedAt.UTC()

	if configJSON != "" {
		err = json.Unmarshal([]byte(configJSON), &bot.Config)
		if err != nil {
			return nil, fmt.Errorf("unmarshal bot config: %w", err)
		}
	}

	return &bot, nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

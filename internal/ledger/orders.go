package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const orderColumns = `id, bot_id, session_id, symbol, side, quantity, status, reason, created_at, updated_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateOrderIntent records an order intent as PENDING before any exchange
// call. An empty SessionID links the bot's ACTIVE session when there is one.
func (s *Store) CreateOrderIntent(ctx context.Context, intent OrderIntent) (*LocalOrder, error) {
	if intent.Side != SideBuy && intent.Side != SideSell {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, intent.Side)
	}
	if !intent.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, intent.Quantity)
	}

	sessionID := intent.SessionID
	if sessionID == "" {
		active, err := s.ActiveSession(ctx, intent.BotID)
		switch {
		case err == nil:
			sessionID = active.ID
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	now := s.now()
	order := &LocalOrder{
		ID:        uuid.NewString(),
		BotID:     intent.BotID,
		SessionID: sessionID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Quantity:  intent.Quantity,
		Status:    OrderPending,
		Reason:    intent.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO local_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.BotID, nullString(order.SessionID), order.Symbol, string(order.Side),
		order.Quantity, string(order.Status), order.Reason, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert local order: %w", err)
	}

	OrderIntentsTotal.WithLabelValues(string(order.Side)).Inc()

	s.logger.Debug("order-intent-recorded",
		zap.String("order-id", order.ID),
		zap.String("bot-id", order.BotID),
		zap.String("session-id", order.SessionID),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()))

	return order, nil
}

// UpdateOrderStatus advances a local order's status.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE local_orders SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), s.now(), orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return requireAffected(res, "order", orderID)
}

// GetOrder returns one local order or ErrNotFound.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*LocalOrder, error) {
	orders, err := s.queryOrders(ctx, `WHERE id = ?`, orderID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return &orders[0], nil
}

// ListOrders returns a bot's orders oldest first.
func (s *Store) ListOrders(ctx context.Context, botID string) ([]LocalOrder, error) {
	return s.queryOrders(ctx, `WHERE bot_id = ? ORDER BY created_at, id`, botID)
}

func (s *Store) queryOrders(ctx context.Context, where string, args ...any) ([]LocalOrder, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+orderColumns+` FROM local_orders `+where), args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []LocalOrder
	for rows.Next() {
		order, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan order: %w", scanErr)
		}
		orders = append(orders, *order)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row scanner) (*LocalOrder, error) {
	var (
		order     LocalOrder
		sessionID sql.NullString
		side      string
		status    string
	)

	err := row.Scan(&order.ID, &order.BotID, &sessionID, &order.Symbol, &side,
		&order.Quantity, &status, &order.Reason, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.SessionID = sessionID.String
	order.Side = Side(side)
	order.Status = OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// errFillRaced aborts a RecordFill transaction whose trade id was committed
// by a concurrent writer after the duplicate check.
var errFillRaced = errors.New("fill recorded concurrently") //nolint:gochecknoglobals // sentinel error

const executionColumns = `e.id, e.local_order_id, e.bot_id, lo.session_id, e.exchange_order_id, e.order_list_id,
	e.symbol, e.side, e.price, e.quantity, e.quote_qty, e.fee, e.fee_asset, e.timestamp,
	e.remaining_qty, e.realized_pnl, e.unmatched_qty`

// RecordFill records one exchange fill against a local order. BUY fills open
// a lot; SELL fills are matched FIFO against the bot's own open lots for the
// symbol. Lot updates, the execution insert and the session summary update
// commit together. Recording an already known exchange trade id returns the
// stored execution with duplicate set and changes nothing.
func (s *Store) RecordFill(ctx context.Context, localOrderID string, fill Fill) (exec *Execution, duplicate bool, err error) {
	if fill.ExchangeTradeID == "" {
		return nil, false, fmt.Errorf("record fill: exchange trade id is required")
	}
	if !fill.Quantity.IsPositive() {
		return nil, false, fmt.Errorf("record fill: %w: %s", ErrInvalidQuantity, fill.Quantity)
	}
	if fill.Price.IsNegative() {
		return nil, false, fmt.Errorf("record fill: negative price %s", fill.Price)
	}

	var match MatchResult

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, txErr := s.queryExecutions(ctx, tx, `WHERE e.id = ?`, fill.ExchangeTradeID)
		if txErr != nil {
			return txErr
		}
		if len(existing) > 0 {
			exec = &existing[0]
			duplicate = true
			return nil
		}

		order, txErr := scanOrder(tx.QueryRowContext(ctx,
			s.q(`SELECT `+orderColumns+` FROM local_orders WHERE id = ?`), localOrderID))
		if errors.Is(txErr, sql.ErrNoRows) {
			return fmt.Errorf("local order %s: %w", localOrderID, ErrNotFound)
		}
		if txErr != nil {
			return fmt.Errorf("load local order: %w", txErr)
		}

		exec = s.newExecution(order, fill)

		switch exec.Side {
		case SideBuy:
			exec.RemainingQty = exec.Quantity
		case SideSell:
			lots, lotErr := s.openLots(ctx, tx, order.BotID, exec.Symbol)
			if lotErr != nil {
				return lotErr
			}

			match = MatchSell(lots, exec.Price, exec.Quantity)
			for _, alloc := range match.Allocations {
				_, updErr := tx.ExecContext(ctx, s.q(`UPDATE executions SET remaining_qty = ?, is_open = ? WHERE id = ?`),
					alloc.Remaining, boolInt(alloc.Remaining.IsPositive()), alloc.ExecutionID)
				if updErr != nil {
					return fmt.Errorf("update lot %s: %w", alloc.ExecutionID, updErr)
				}
			}
			exec.RealizedPnL = match.RealizedPnL
			exec.UnmatchedQty = match.UnmatchedQty
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSide, exec.Side)
		}

		res, txErr := tx.ExecContext(ctx, s.q(`
			INSERT INTO executions (
				id, local_order_id, bot_id, exchange_order_id, order_list_id,
				symbol, side, price, quantity, quote_qty, fee, fee_asset, timestamp,
				remaining_qty, is_open, realized_pnl, unmatched_qty, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			exec.ID, exec.LocalOrderID, exec.BotID, exec.ExchangeOrderID, exec.OrderListID,
			exec.Symbol, string(exec.Side), exec.Price, exec.Quantity, exec.QuoteQty, exec.Fee, exec.FeeAsset,
			exec.Timestamp, exec.RemainingQty, boolInt(exec.RemainingQty.IsPositive()), exec.RealizedPnL,
			exec.UnmatchedQty, s.now(),
		)
		if txErr != nil {
			return fmt.Errorf("insert execution: %w", txErr)
		}
		inserted, txErr := res.RowsAffected()
		if txErr != nil {
			return fmt.Errorf("insert execution rows affected: %w", txErr)
		}
		if inserted == 0 {
			// lot updates roll back with the transaction
			return errFillRaced
		}

		if exec.SessionID != "" {
			txErr = s.applySessionSummary(ctx, tx, exec.SessionID, exec.RealizedPnL, exec.Fee)
			if txErr != nil {
				return txErr
			}
		}

		return nil
	})
	if errors.Is(err, errFillRaced) {
		existing, qErr := s.queryExecutions(ctx, s.db, `WHERE e.id = ?`, fill.ExchangeTradeID)
		if qErr != nil {
			return nil, false, qErr
		}
		if len(existing) == 0 {
			return nil, false, fmt.Errorf("record fill %s: %w", fill.ExchangeTradeID, err)
		}
		exec, duplicate, err = &existing[0], true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if duplicate {
		DuplicateFillsTotal.Inc()
		s.logger.Warn("fill-already-recorded",
			zap.String("exchange-trade-id", fill.ExchangeTradeID),
			zap.String("local-order-id", localOrderID))
		return exec, true, nil
	}

	FillsRecordedTotal.WithLabelValues(string(exec.Side)).Inc()

	if exec.UnmatchedQty.IsPositive() {
		UnmatchedSellTotal.Inc()
		s.logger.Warn("sell-exceeds-open-lots",
			zap.String("bot-id", exec.BotID),
			zap.String("symbol", exec.Symbol),
			zap.String("exchange-trade-id", exec.ID),
			zap.String("unmatched-qty", exec.UnmatchedQty.String()))
	}

	s.logger.Info("fill-recorded",
		zap.String("exchange-trade-id", exec.ID),
		zap.String("bot-id", exec.BotID),
		zap.String("side", string(exec.Side)),
		zap.String("price", exec.Price.String()),
		zap.String("quantity", exec.Quantity.String()),
		zap.String("realized-pnl", exec.RealizedPnL.String()),
		zap.Int("lots-matched", len(match.Allocations)))

	return exec, false, nil
}

// ListExecutions returns a bot's executions in ledger order.
func (s *Store) ListExecutions(ctx context.Context, botID string) ([]Execution, error) {
	return s.queryExecutions(ctx, s.db, `WHERE e.bot_id = ? ORDER BY e.timestamp, e.seq`, botID)
}

// OpenLots returns the bot's BUY executions with remaining quantity for a
// symbol, oldest first.
func (s *Store) OpenLots(ctx context.Context, botID, symbol string) ([]Lot, error) {
	return s.openLots(ctx, s.db, botID, symbol)
}

func (s *Store) openLots(ctx context.Context, q querier, botID, symbol string) ([]Lot, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT id, price, remaining_qty FROM executions
		WHERE bot_id = ? AND symbol = ? AND side = ? AND is_open = 1
		ORDER BY timestamp, seq`+s.forUpdate()),
		botID, symbol, string(SideBuy))
	if err != nil {
		return nil, fmt.Errorf("query open lots: %w", err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		var lot Lot
		err = rows.Scan(&lot.ExecutionID, &lot.Price, &lot.Remaining)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate lots: %w", err)
	}
	return lots, nil
}

func (s *Store) newExecution(order *LocalOrder, fill Fill) *Execution {
	side := fill.Side
	if side == "" {
		side = order.Side
	}
	symbol := fill.Symbol
	if symbol == "" {
		symbol = order.Symbol
	}
	ts := fill.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	quote := fill.QuoteQty
	if quote.IsZero() {
		quote = fill.Price.Mul(fill.Quantity)
	}

	return &Execution{
		ID:              fill.ExchangeTradeID,
		LocalOrderID:    order.ID,
		BotID:           order.BotID,
		SessionID:       order.SessionID,
		ExchangeOrderID: fill.ExchangeOrderID,
		OrderListID:     fill.OrderListID,
		Symbol:          symbol,
		Side:            side,
		Price:           fill.Price,
		Quantity:        fill.Quantity,
		QuoteQty:        quote,
		Fee:             fill.Fee,
		FeeAsset:        fill.FeeAsset,
		Timestamp:       ts.UTC(),
		RemainingQty:    decimal.Zero,
		RealizedPnL:     decimal.Zero,
		UnmatchedQty:    decimal.Zero,
	}
}

func (s *Store) queryExecutions(ctx context.Context, q querier, where string, args ...any) ([]Execution, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT `+executionColumns+`
		FROM executions e JOIN local_orders lo ON lo.id = e.local_order_id `+where), args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		var (
			e         Execution
			sessionID sql.NullString
			side      string
		)
		err = rows.Scan(&e.ID, &e.LocalOrderID, &e.BotID, &sessionID, &e.ExchangeOrderID, &e.OrderListID,
			&e.Symbol, &side, &e.Price, &e.Quantity, &e.QuoteQty, &e.Fee, &e.FeeAsset, &e.Timestamp,
			&e.RemainingQty, &e.RealizedPnL, &e.UnmatchedQty)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.SessionID = sessionID.String
		e.Side = Side(side)
		e.Timestamp = e.Timestamp.UTC()
		execs = append(execs, e)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-execv1/internal/model"
)

const orderColumns = `id, strategy_id, strategy_symbol_id, symbol, side, qty,
	entry_price, current_price, price_last_updated, status,
	signal_time, entry_time, exit_time, exit_price, exit_reason, pnl`

// InsertOrder persists a new order aggregate and assigns its ID.
func (s *Store) InsertOrder(ctx context.Context, o *model.Order) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (strategy_id, strategy_symbol_id, symbol, side, qty,
			entry_price, status, signal_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.StrategyID, o.StrategySymbolID, o.Symbol, o.Side, o.Qty,
		o.EntryPrice, string(o.Status), ts(o.SignalTime))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return err
}

// GetOrder loads one order by its parent order id.
func (s *Store) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return model.Order{}, fmt.Errorf("order %d not found", id)
	}
	return o, err
}

// ListOpenOrders returns every non-terminal order.
func (s *Store) ListOpenOrders(ctx context.Context) ([]model.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status NOT IN ('CLOSED', 'CANCELLED') ORDER BY id`)
}

// ListOrders returns every order, newest first, capped at limit.
func (s *Store) ListOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
}

// ListOpenOrdersForStrategyAndTradeDay returns a strategy's non-terminal
// orders signalled on the given IST trading day.
func (s *Store) ListOpenOrdersForStrategyAndTradeDay(ctx context.Context, strategyID int64, day time.Time) ([]model.Order, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE strategy_id = ?
		  AND status NOT IN ('CLOSED', 'CANCELLED')
		  AND signal_time >= ? AND signal_time < ?
		ORDER BY id`,
		strategyID, ts(dayStart), ts(dayEnd))
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (model.Order, error) {
	var (
		o                                    model.Order
		status                               string
		priceAt, sigAt, entryAt, exitAt      sql.NullString
		exitReason                           sql.NullString
	)
	err := r.Scan(&o.ID, &o.StrategyID, &o.StrategySymbolID, &o.Symbol, &o.Side, &o.Qty,
		&o.EntryPrice, &o.CurrentPrice, &priceAt, &status,
		&sigAt, &entryAt, &exitAt, &o.ExitPrice, &exitReason, &o.PnL)
	if err != nil {
		return model.Order{}, err
	}
	o.Status = model.Status(status)
	o.PriceLastUpdated = parseTS(priceAt)
	o.SignalTime = parseTS(sigAt)
	o.EntryTime = parseTS(entryAt)
	o.ExitTime = parseTS(exitAt)
	o.ExitReason = exitReason.String
	return o, nil
}

// TransitionOrder moves an order to a new status after validating the
// move against the state machine. The compare-and-set WHERE clause keeps
// a concurrent transition from silently overwriting this one.
func (s *Store) TransitionOrder(ctx context.Context, id int64, to model.Status) error {
	var current string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d not found", id)
		}
		return err
	}
	from := model.Status(current)
	if !model.CanTransition(from, to) {
		return fmt.Errorf("order %d: illegal transition %s → %s", id, from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, current)
	if err != nil {
		return fmt.Errorf("order %d: transition: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: status changed concurrently, transition to %s lost", id, to)
	}
	return nil
}

// SetOrderEntry records the reconciled entry fill price and time.
func (s *Store) SetOrderEntry(ctx context.Context, id int64, entryPrice float64, entryTime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET entry_price = ?, entry_time = ? WHERE id = ?`,
		entryPrice, ts(entryTime), id)
	return err
}

// UpdateOrderPrice refreshes the mark price.
func (s *Store) UpdateOrderPrice(ctx context.Context, id int64, current float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET current_price = ?, price_last_updated = ? WHERE id = ?`,
		current, ts(at), id)
	return err
}

// SetOrderExit records the exit price, reason and time without touching
// the status; the transition commits separately, after the EXIT rows.
func (s *Store) SetOrderExit(ctx context.Context, id int64, exitPrice float64, reason string, exitTime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET exit_price = ?, exit_reason = ?, exit_time = ? WHERE id = ?`,
		exitPrice, reason, ts(exitTime), id)
	return err
}

// CloseOrder finalizes a resolved exit: reconciled exit price, realized
// PnL, and the terminal CLOSED transition, in one statement guarded by
// the state machine.
func (s *Store) CloseOrder(ctx context.Context, id int64, exitPrice, pnl float64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE orders SET exit_price = ?, pnl = ? WHERE id = ?`, exitPrice, pnl, id); err != nil {
		return err
	}
	return s.TransitionOrder(ctx, id, model.StatusClosed)
}

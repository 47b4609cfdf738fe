package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"trading-execv1/internal/model"
)

// InsertExecution appends one broker execution row. The unique index on
// (parent_order_id, broker_id) for ENTRY rows turns a duplicate entry
// insert into an error instead of a second live row.
func (s *Store) InsertExecution(ctx context.Context, e *model.BrokerExecution) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_executions (parent_order_id, broker_id, broker_name,
			broker_order_id, side, action, status, executed_quantity,
			execution_price, execution_time, product_type, order_type, raw_response)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ParentOrderID, e.BrokerID, e.BrokerName,
		e.BrokerOrderID, string(e.Side), e.Action, e.Status, e.ExecutedQty,
		e.ExecPrice, ts(e.ExecTime), e.ProductType, e.OrderType, string(e.RawResponse))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// UpdateExecution rewrites the reconcilable fields of one row in place.
// Identity fields (order, broker, side) never change.
func (s *Store) UpdateExecution(ctx context.Context, e *model.BrokerExecution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE broker_executions
		SET broker_order_id = ?, status = ?, executed_quantity = ?,
			execution_price = ?, execution_time = ?
		WHERE id = ?`,
		e.BrokerOrderID, e.Status, e.ExecutedQty, e.ExecPrice, ts(e.ExecTime), e.ID)
	if err != nil {
		return fmt.Errorf("update execution %d: %w", e.ID, err)
	}
	return nil
}

// ExecutionsForOrder lists one phase's rows for an order.
func (s *Store) ExecutionsForOrder(ctx context.Context, parentID int64, side model.ExecutionSide) ([]model.BrokerExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_order_id, broker_id, broker_name, broker_order_id,
			side, action, status, executed_quantity, execution_price,
			execution_time, product_type, order_type, raw_response
		FROM broker_executions
		WHERE parent_order_id = ? AND side = ?
		ORDER BY id`, parentID, string(side))
	if err != nil {
		return nil, fmt.Errorf("executions for order %d: %w", parentID, err)
	}
	defer rows.Close()

	var out []model.BrokerExecution
	for rows.Next() {
		var (
			e                     model.BrokerExecution
			side                  string
			orderID, execAt       sql.NullString
			product, otype, raw   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ParentOrderID, &e.BrokerID, &e.BrokerName, &orderID,
			&side, &e.Action, &e.Status, &e.ExecutedQty, &e.ExecPrice,
			&execAt, &product, &otype, &raw); err != nil {
			return nil, err
		}
		e.BrokerOrderID = orderID.String
		e.Side = model.ExecutionSide(side)
		e.ExecTime = parseTS(execAt)
		e.ProductType = product.String
		e.OrderType = otype.String
		if raw.Valid && raw.String != "" {
			e.RawResponse = []byte(raw.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

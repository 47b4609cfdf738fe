package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"trading-execv1/internal/model"
)

// BrokerRow is one configured broker account.
type BrokerRow struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	TradeEnabled bool   `json:"trade_enabled"`
}

// UpsertBroker registers a broker by name and returns its stable id.
func (s *Store) UpsertBroker(ctx context.Context, name string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO brokers (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("upsert broker %s: %w", name, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM brokers WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("broker id for %s: %w", name, err)
	}
	return id, nil
}

// ListBrokers returns every configured broker.
func (s *Store) ListBrokers(ctx context.Context) ([]BrokerRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, trade_enabled FROM brokers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list brokers: %w", err)
	}
	defer rows.Close()
	var out []BrokerRow
	for rows.Next() {
		var b BrokerRow
		var enabled int
		if err := rows.Scan(&b.ID, &b.Name, &enabled); err != nil {
			return nil, err
		}
		b.TradeEnabled = enabled != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetTradeEnabled flips a broker's entry eligibility flag.
func (s *Store) SetTradeEnabled(ctx context.Context, name string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE brokers SET trade_enabled = ? WHERE name = ?`, v, name)
	return err
}

// UpsertBalanceSummary stores the latest funds snapshot for a broker,
// latest wins.
func (s *Store) UpsertBalanceSummary(ctx context.Context, b model.BalanceSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_balance_summaries (broker_id, broker_name, total_balance, available, utilized, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (broker_id) DO UPDATE SET
			broker_name = excluded.broker_name,
			total_balance = excluded.total_balance,
			available = excluded.available,
			utilized = excluded.utilized,
			fetched_at = excluded.fetched_at`,
		b.BrokerID, b.BrokerName, b.TotalBalance, b.Available, b.Utilized, ts(b.FetchedAt))
	if err != nil {
		return fmt.Errorf("upsert balance for %s: %w", b.BrokerName, err)
	}
	return nil
}

// BalanceSummaries returns the latest snapshot per broker.
func (s *Store) BalanceSummaries(ctx context.Context) ([]model.BalanceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT broker_id, broker_name, total_balance, available, utilized, fetched_at
		FROM broker_balance_summaries ORDER BY broker_id`)
	if err != nil {
		return nil, fmt.Errorf("balance summaries: %w", err)
	}
	defer rows.Close()
	var out []model.BalanceSummary
	for rows.Next() {
		var b model.BalanceSummary
		var at sql.NullString
		if err := rows.Scan(&b.BrokerID, &b.BrokerName, &b.TotalBalance, &b.Available, &b.Utilized, &at); err != nil {
			return nil, err
		}
		b.FetchedAt = parseTS(at)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Package sqlite is the persistence layer: orders, per-broker execution
// rows, broker registry and balance snapshots, in a WAL-mode SQLite file
// with a single-writer connection pool. It is the single source of truth;
// every timestamp crosses the boundary as an RFC 3339 string and every
// status transition is validated against the order state machine before
// it commits.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the store.
type Config struct {
	DBPath string // e.g. "data/execengine.db", or ":memory:" in tests
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode, creates the schema, and pins the
// pool to a single writer connection.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS brokers (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT    NOT NULL UNIQUE,
			trade_enabled INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS orders (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id        INTEGER NOT NULL,
			strategy_symbol_id INTEGER NOT NULL,
			symbol             TEXT    NOT NULL,
			side               TEXT    NOT NULL,
			qty                INTEGER NOT NULL,
			entry_price        REAL    NOT NULL DEFAULT 0,
			current_price      REAL    NOT NULL DEFAULT 0,
			price_last_updated TEXT,
			status             TEXT    NOT NULL,
			signal_time        TEXT,
			entry_time         TEXT,
			exit_time          TEXT,
			exit_price         REAL    NOT NULL DEFAULT 0,
			exit_reason        TEXT,
			pnl                REAL    NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);

		CREATE TABLE IF NOT EXISTS broker_executions (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_order_id   INTEGER NOT NULL REFERENCES orders (id),
			broker_id         INTEGER NOT NULL,
			broker_name       TEXT    NOT NULL,
			broker_order_id   TEXT,
			side              TEXT    NOT NULL,
			action            TEXT    NOT NULL,
			status            TEXT    NOT NULL,
			executed_quantity INTEGER NOT NULL DEFAULT 0,
			execution_price   REAL    NOT NULL DEFAULT 0,
			execution_time    TEXT,
			product_type      TEXT,
			order_type        TEXT,
			raw_response      TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_executions_order ON broker_executions (parent_order_id, side);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_entry_per_broker
			ON broker_executions (parent_order_id, broker_id) WHERE side = 'ENTRY';

		CREATE TABLE IF NOT EXISTS broker_balance_summaries (
			broker_id     INTEGER PRIMARY KEY,
			broker_name   TEXT NOT NULL,
			total_balance REAL NOT NULL DEFAULT 0,
			available     REAL NOT NULL DEFAULT 0,
			utilized      REAL NOT NULL DEFAULT 0,
			fetched_at    TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ts renders a timestamp for storage; zero times become NULL.
func ts(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS reads a stored timestamp, tolerating NULL and legacy formats.
func parseTS(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}

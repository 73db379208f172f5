package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Storage bundles the SQLite-backed repositories behind one open/migrate/close
// lifecycle.
type Storage struct {
	pool *ConnectionPool

	Bindings  *BindingRepository
	Snapshots *SnapshotRepository
	Rules     *RuleRepository
	Tokens    *TokenRepository
}

// Open connects to the SQLite database identified by dsn. The now function
// drives the token cache's expiry checks; nil falls back to time.Now.
func Open(dsn string, now func() time.Time) (*Storage, error) {
	pool, err := NewConnectionPool(dsn)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:      pool,
		Bindings:  NewBindingRepository(pool),
		Snapshots: NewSnapshotRepository(pool),
		Rules:     NewRuleRepository(pool),
		Tokens:    NewTokenRepository(pool, now),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bindings (
		user_id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		sealed_password TEXT NOT NULL,
		variant TEXT NOT NULL CHECK (variant IN ('A', 'B')),
		room_label TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		electric TEXT NOT NULL,
		water TEXT NOT NULL,
		ac TEXT NOT NULL,
		room_label TEXT NOT NULL DEFAULT '',
		observed_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_user_observed
		ON snapshots (user_id, observed_at)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		chat_scope TEXT NOT NULL,
		hour_of_day INTEGER NOT NULL CHECK (hour_of_day BETWEEN 0 AND 23),
		threshold TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_user_hour
		ON rules (user_id, hour_of_day)`,
	`CREATE TABLE IF NOT EXISTS session_tokens (
		user_id TEXT PRIMARY KEY,
		bearer_token TEXT NOT NULL,
		cookie_a TEXT NOT NULL DEFAULT '',
		cookie_b TEXT NOT NULL DEFAULT '',
		issued_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	)`,
}

// Migrate applies the schema in one transaction. Statements are idempotent
// so repeated startup runs are safe.
func (s *Storage) Migrate(ctx context.Context) error {
	return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, statement := range schema {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}

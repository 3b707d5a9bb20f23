package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the cursor table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS poll_cursors (
	key        TEXT PRIMARY KEY,
	slot       BIGINT NOT NULL CHECK (slot >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store provides Postgres persistence for poll cursors.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool, verifies it with a ping and ensures the schema.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Cursor is one persisted poll position.
type Cursor struct {
	Key       string
	Slot      uint64
	UpdatedAt time.Time
}

// EnsureSchema creates the cursor table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create poll_cursors table: %w", err)
	}
	return nil
}

// GetCursor returns the stored slot for key. ok is false when no row exists.
func (s *Store) GetCursor(ctx context.Context, key string) (slot uint64, ok bool, err error) {
	var v int64
	err = s.pool.QueryRow(ctx, `SELECT slot FROM poll_cursors WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor %q: %w", key, err)
	}
	return uint64(v), true, nil
}

// UpsertCursor stores slot under key.
func (s *Store) UpsertCursor(ctx context.Context, key string, slot uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO poll_cursors (key, slot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET slot = EXCLUDED.slot, updated_at = EXCLUDED.updated_at`,
		key, int64(slot),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cursor %q: %w", key, err)
	}
	return nil
}

// DeleteCursor removes key. Deleting a missing key is not an error.
func (s *Store) DeleteCursor(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM poll_cursors WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cursor %q: %w", key, err)
	}
	return nil
}

// ListCursors returns all cursors ordered by key.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, slot, updated_at FROM poll_cursors ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		var slot int64
		if err := rows.Scan(&c.Key, &slot, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		c.Slot = uint64(slot)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

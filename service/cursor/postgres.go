package cursor

import (
	"context"

	"github.com/brojonat/slotwatch/service/db"
)

// PostgresStore adapts db.Store to the Store interface.
type PostgresStore struct {
	db *db.Store
}

// NewPostgresStore wraps an existing db.Store.
func NewPostgresStore(s *db.Store) *PostgresStore {
	return &PostgresStore{db: s}
}

// OpenPostgres connects to databaseURL and ensures the cursor table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	s, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(s), nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (uint64, bool, error) {
	return s.db.GetCursor(ctx, key)
}

func (s *PostgresStore) Save(ctx context.Context, key string, slot uint64) error {
	return s.db.UpsertCursor(ctx, key, slot)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.db.DeleteCursor(ctx, key)
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	cursors, err := s.db.ListCursors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(cursors))
	for i, c := range cursors {
		out[i] = Entry{Key: c.Key, Slot: c.Slot}
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

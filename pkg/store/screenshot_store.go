package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteScreenshotStore persists screenshot bytes and hands out opaque
// references. Satisfies the capture and replay screenshot hook.
type SQLiteScreenshotStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteScreenshotStore migrates the schema and returns the store.
func NewSQLiteScreenshotStore(db *sql.DB) (*SQLiteScreenshotStore, error) {
	s := &SQLiteScreenshotStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the time source, for tests.
func (s *SQLiteScreenshotStore) WithClock(clock func() time.Time) *SQLiteScreenshotStore {
	s.clock = clock
	return s
}

func (s *SQLiteScreenshotStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS screenshots (
        ref TEXT PRIMARY KEY,
        data BLOB NOT NULL,
        created_at DATETIME
    );`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("migrate screenshots: %w", err)
	}
	return nil
}

// Save stores the bytes and returns the reference actions carry.
func (s *SQLiteScreenshotStore) Save(ctx context.Context, data []byte) (string, error) {
	ref := "shot-" + uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO screenshots (ref, data, created_at) VALUES (?, ?, ?)`,
		ref, data, s.clock().UTC())
	if err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}
	return ref, nil
}

// Load returns the bytes for a reference, or ErrNotFound.
func (s *SQLiteScreenshotStore) Load(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM screenshots WHERE ref = ?`, ref).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load screenshot: %w", err)
	}
	return data, nil
}

package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that SQLite implements Store.
var _ Store = (*SQLite)(nil)

// SQLite is a Store backed by the cache_entries table. Expiry is lazy:
// expired rows are deleted when read. The table is created by the storage
// package's migrations.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite wraps an existing *sql.DB for cache operations.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	if expiresAt.Valid {
		deadline, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, false, fmt.Errorf("parsing expires_at for %s: %w", key, err)
		}
		if s.now().After(deadline) {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
				return nil, false, fmt.Errorf("evicting expired entry %s: %w", key, err)
			}
			return nil, false, nil
		}
	}

	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, expiresAt, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cache entry %s: %w", key, err)
	}
	return nil
}

// Close is a no-op: the database connection is owned by the storage layer.
func (s *SQLite) Close() error {
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/depwatch/internal/infra/storage"
)

// Store implements storage.Store on the kv_store table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a new PostgreSQL key-value store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const upsertQuery = `
INSERT INTO kv_store (key, value, expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`

const selectQuery = `
SELECT value FROM kv_store
WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`

const deleteQuery = `DELETE FROM kv_store WHERE key = $1`

const purgeQuery = `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= $1`

// Put upserts a value. A ttl of 0 means no expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, upsertQuery, key, value, expiresAt, now); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Get returns storage.ErrNotFound for missing or expired keys.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, selectQuery, key, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeQuery, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired keys: %w", err)
	}
	return res.RowsAffected()
}

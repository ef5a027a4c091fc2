package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/watson-creative/tracking-injector/internal/cache"
)

// GetTransient returns the value stored under key. Expired entries are
// removed and reported as missing.
func (s *Store) GetTransient(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM site_transients WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expiresAt > 0 && s.now().Unix() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM site_transients WHERE key = ?", key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return value, true, nil
}

// SetTransient stores value under key. A ttl of zero or less never expires.
func (s *Store) SetTransient(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_transients (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	return err
}

// DeleteTransient removes key. Deleting a missing key is not an error.
func (s *Store) DeleteTransient(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM site_transients WHERE key = ?", key)
	return err
}

// PurgeExpiredTransients removes every expired entry and returns how many were dropped.
func (s *Store) PurgeExpiredTransients(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM site_transients WHERE expires_at > 0 AND expires_at <= ?", s.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Transients adapts the transient table to cache.Store.
func (s *Store) Transients() cache.Store {
	return transientCache{s}
}

type transientCache struct{ s *Store }

func (t transientCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.s.GetTransient(ctx, key)
}

func (t transientCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.s.SetTransient(ctx, key, value, ttl)
}

func (t transientCache) Delete(ctx context.Context, key string) error {
	return t.s.DeleteTransient(ctx, key)
}

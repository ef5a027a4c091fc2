package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetOption returns the stored value of an option and whether it exists.
func (s *Store) GetOption(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM options WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// UpdateOption creates or overwrites an option.
func (s *Store) UpdateOption(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO options (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, name, value)
	return err
}

// UpdateOptions writes several options in a single transaction.
func (s *Store) UpdateOptions(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO options (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for name, value := range values {
		if _, err := stmt.ExecContext(ctx, name, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EnsureOption sets an option only when it is missing or empty, and reports
// whether it wrote anything.
func (s *Store) EnsureOption(ctx context.Context, name, value string) (bool, error) {
	current, ok, err := s.GetOption(ctx, name)
	if err != nil {
		return false, err
	}
	if ok && current != "" {
		return false, nil
	}
	return true, s.UpdateOption(ctx, name, value)
}

// GetOptions returns the values of the named options. Missing options are omitted.
func (s *Store) GetOptions(ctx context.Context, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		value, ok, err := s.GetOption(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = value
		}
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InstalledPlugin represents an installed plugin tracking entry
type InstalledPlugin struct {
	Slug        string     `json:"slug"`
	Version     string     `json:"version"`
	Active      bool       `json:"active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Install statuses recorded in plugin_installs.
const (
	InstallStatusSuccess = "success"
	InstallStatusFailed  = "failed"
)

// InstallRecord is one attempt of the upgrade pipeline.
type InstallRecord struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	BackupPath  string    `json:"backup_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UpsertInstalledPlugin records the version of a plugin found on disk.
func (s *Store) UpsertInstalledPlugin(ctx context.Context, slug, version string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installed_plugins (slug, version, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(slug) DO UPDATE SET version = excluded.version, updated_at = CURRENT_TIMESTAMP
	`, slug, version)
	return err
}

// SetPluginActive flips the active flag, creating the row when needed.
func (s *Store) SetPluginActive(ctx context.Context, slug string, active bool) error {
	var activatedAt any
	if active {
		activatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installed_plugins (slug, active, activated_at, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(slug) DO UPDATE SET active = excluded.active, activated_at = excluded.activated_at, updated_at = CURRENT_TIMESTAMP
	`, slug, active, activatedAt)
	return err
}

// GetInstalledPlugin returns nil without error when the plugin is unknown.
func (s *Store) GetInstalledPlugin(ctx context.Context, slug string) (*InstalledPlugin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slug, version, active, activated_at, updated_at
		FROM installed_plugins WHERE slug = ?
	`, slug)
	p, err := scanInstalledPlugin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetAllInstalledPlugins returns every tracked plugin ordered by slug.
func (s *Store) GetAllInstalledPlugins(ctx context.Context) ([]*InstalledPlugin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, version, active, activated_at, updated_at
		FROM installed_plugins ORDER BY slug ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plugins []*InstalledPlugin
	for rows.Next() {
		p, err := scanInstalledPlugin(rows)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

// DeleteInstalledPlugin removes the tracking entry of a plugin.
func (s *Store) DeleteInstalledPlugin(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM installed_plugins WHERE slug = ?", slug)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstalledPlugin(row rowScanner) (*InstalledPlugin, error) {
	var p InstalledPlugin
	var activatedAt sql.NullTime
	if err := row.Scan(&p.Slug, &p.Version, &p.Active, &activatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if activatedAt.Valid {
		p.ActivatedAt = &activatedAt.Time
	}
	return &p, nil
}

// RecordInstall stores the outcome of an upgrade attempt.
func (s *Store) RecordInstall(ctx context.Context, rec *InstallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_installs (id, slug, from_version, to_version, status, message, backup_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Slug, rec.FromVersion, rec.ToVersion, rec.Status, rec.Message, rec.BackupPath, rec.CreatedAt)
	return err
}

// GetInstallHistory returns the most recent attempts first. An empty slug
// returns the history of every plugin.
func (s *Store) GetInstallHistory(ctx context.Context, slug string, limit int) ([]*InstallRecord, error) {
	query := `SELECT id, slug, from_version, to_version, status, message, backup_path, created_at FROM plugin_installs`
	args := []any{}
	if slug != "" {
		query += " WHERE slug = ?"
		args = append(args, slug)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*InstallRecord
	for rows.Next() {
		var r InstallRecord
		if err := rows.Scan(&r.ID, &r.Slug, &r.FromVersion, &r.ToVersion, &r.Status, &r.Message, &r.BackupPath, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

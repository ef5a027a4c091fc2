// To handle all database interactions. This is our
// data access layer, keeping SQL queries separate from business logic.

package store

import (
	"database/sql"
	"time"
)

// Store provides all functions to interact with the database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces the clock used for transient expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

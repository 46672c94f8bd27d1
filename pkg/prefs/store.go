// Package prefs persists the handful of values that must survive a restart.
// Today that is exactly one: the last committed search term.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrClosed indicates the underlying database connection is unavailable.
var ErrClosed = errors.New("prefs: closed")

const keyLastSearch = "last_search"

// Store is a small sqlite-backed key/value store for user preferences.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the preferences database at path.
// Pass ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("prefs: path cannot be empty")
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating prefs directory: %w", err)
			}
		}
		if err := ensurePrivateFile(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening prefs database: %w", err)
	}

	// One writer, rare reads. A single connection keeps WAL checkpointing
	// and in-memory databases predictable.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prefs (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing prefs schema: %w", err)
	}

	return &Store{db: db}, nil
}

// ensurePrivateFile creates the database file with 0600 permissions before
// sqlite gets a chance to create it with the process umask.
func ensurePrivateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat prefs path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("creating prefs file: %w", err)
	}
	return f.Close()
}

// LastSearch returns the persisted search term, or "" when none has been
// committed yet.
func (s *Store) LastSearch(ctx context.Context) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM prefs WHERE key = ?`, keyLastSearch,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading last search: %w", err)
	}
	return value, nil
}

// SetLastSearch stores term as the last committed search. Callers pass the
// already-normalized term; an empty term is valid and means a blank browse.
func (s *Store) SetLastSearch(ctx context.Context, term string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prefs (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, keyLastSearch, term, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing last search: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides authorized key and session persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS authorized_keys (
			public_key TEXT PRIMARY KEY,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			revoked_at DATETIME,
			last_used  DATETIME,

			CHECK (status IN ('active', 'revoked'))
		);

		CREATE INDEX IF NOT EXISTS idx_keys_status ON authorized_keys(status);
		CREATE INDEX IF NOT EXISTS idx_keys_expires ON authorized_keys(expires_at);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id     TEXT PRIMARY KEY,
			public_key     TEXT NOT NULL,
			matrix_user_id TEXT NOT NULL UNIQUE,
			alias          TEXT NOT NULL,
			access_token   TEXT,
			created_at     DATETIME NOT NULL,
			last_activity  DATETIME NOT NULL,
			active         INTEGER NOT NULL DEFAULT 1,

			FOREIGN KEY (public_key) REFERENCES authorized_keys(public_key)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_public_key ON sessions(public_key);
		CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active);
		CREATE INDEX IF NOT EXISTS idx_sessions_alias ON sessions(alias);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

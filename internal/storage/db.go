// Package storage keeps the state shared between runs in one SQLite
// database: the document cache, the bulk run lease and the update history.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	size       INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_updated_at ON cache (updated_at);

CREATE TABLE IF NOT EXISTS run_lease (
	name        TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	hostname    TEXT NOT NULL,
	pid         INTEGER NOT NULL,
	acquired_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL,
	title       TEXT NOT NULL,
	at          INTEGER NOT NULL,
	operation   TEXT NOT NULL,
	details     TEXT NOT NULL
);
`

// DB is the state database.
type DB struct {
	sql *sql.DB
	log *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	logger.Info("opening state database", "path", path)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open state database", "error", err)
		return nil, err
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		logger.Error("failed to migrate state database", "error", err)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{sql: db, log: logger}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	db.log.Info("closing state database")
	return db.sql.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

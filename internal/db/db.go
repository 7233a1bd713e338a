// Package db provides the SQLite connection and schema for lifxd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Resource state - JSON documents keyed by (kind, id). Known devices live
	// here so lights are addressable before the first discovery answer.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS resource_state (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS idx_resource_state_kind ON resource_state(kind);
	`)
	if err != nil {
		return fmt.Errorf("failed to create resource_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

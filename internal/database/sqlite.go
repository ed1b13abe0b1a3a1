package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryURL opens a private in-memory database.
const MemoryURL = ":memory:"

type DB struct {
	*sql.DB
}

func NewSQLite(databaseURL string) (*DB, error) {
	dsn := databaseURL + "?_foreign_keys=on&_journal_mode=WAL"
	if databaseURL == MemoryURL {
		dsn = "file::memory:?_foreign_keys=on"
	} else {
		// Ensure the directory exists
		dir := filepath.Dir(databaseURL)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if databaseURL == MemoryURL {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			task TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			output TEXT,
			error TEXT,
			result TEXT,
			started_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE runs ADD COLUMN session_id TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_session_entries_session_id ON session_entries(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_mode ON runs(mode, started_at)`,
	}

	for _, migration := range migrations {
		_, err := db.Exec(migration)
		if err != nil {
			// SQLite returns "duplicate column name" when column already exists
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("failed to run migration: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

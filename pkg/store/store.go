package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"postvault/pkg/logger"
)

const (
	// batchChunkSize bounds the number of placeholders in one IN (...)
	// query; SQLite's default variable limit is 999
	batchChunkSize = 500

	txMaxRetries = 3
)

// Store wraps the archive database
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// Open opens (creating if necessary) the archive at path, applies the
// standard pragmas and runs pending schema migrations
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *Store) Ping() error {
	return s.db.Ping()
}

// DB exposes the underlying handle for read-only API queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, retrying on SQLITE_BUSY
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	for attempt := 0; attempt < txMaxRetries; attempt++ {
		tx, err := s.db.Begin()
		if err != nil {
			if attempt < txMaxRetries-1 {
				continue
			}
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if attempt < txMaxRetries-1 && isBusyError(err) {
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if attempt < txMaxRetries-1 && isBusyError(err) {
				continue
			}
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		return nil
	}

	return fmt.Errorf("transaction failed after %d retries", txMaxRetries)
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "SQLITE_BUSY")
}

// placeholders returns "?,?,...,?" with n slots
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// formatTime stores timestamps as UTC RFC 3339 text
func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseStoredTime accepts both our RFC 3339 writes and SQLite's
// CURRENT_TIMESTAMP format
func parseStoredTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

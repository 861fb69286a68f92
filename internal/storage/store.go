// Package storage implements the Storage Service (STG): a persistent
// key-value map scoped per application identifier, backed by
// modernc.org/sqlite. Built on the same Open/migrate/WAL-tuning shape as
// internal/persistence.Store, generalized from a workspace-scoped "tabs"
// table to an app-scoped key/blob table.
package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed key-value store behind the storage service.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens a sqlite database at dbPath, applying
// WAL/busy-timeout tuning suited to a write-heavy workload.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{migrateV1}
	for i := version; i < len(migrations); i++ {
		slog.Info("applying storage migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			app_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (app_id, key)
		);
	`)
	return err
}

// Get returns the blob stored at (appID, key), or ok=false if absent.
func (s *Store) Get(appID, key string) (value []byte, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err = s.db.QueryRow("SELECT value FROM kv WHERE app_id = ? AND key = ?", appID, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", appID, key, err)
	}
	return blob, true, nil
}

// Set upserts the blob at (appID, key).
func (s *Store) Set(appID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO kv (app_id, key, value, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(app_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		appID, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", appID, key, err)
	}
	return nil
}

// Remove deletes (appID, key). Removing an absent key is not an error.
func (s *Store) Remove(appID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM kv WHERE app_id = ? AND key = ?", appID, key); err != nil {
		return fmt.Errorf("remove %s/%s: %w", appID, key, err)
	}
	return nil
}

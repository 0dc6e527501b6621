// Package store provides the durable key-value primitive every other part
// of the offline core is built on: namespaced key -> JSON blob persistence
// backed by SQLite, atomic per key and crash-safe via WAL.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Namespaces used by the offline core. Kept here so the CLI and tests share
// one set of names with the packages that own them.
const (
	NamespaceOfflineEntities = "offline_entities"
	NamespaceSyncQueue       = "sync_queue"
	NamespaceDeadLetter      = "dead_letter"
	NamespaceClientState     = "client_state"
)

// Store is the SQLite-backed durable store. A single in-process mutex
// serializes all access so a read-modify-write of a namespace's sequence
// cannot interleave with a concurrent writer.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates a Store at dbPath, applying pragmas and migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores v under (namespace, key), replacing any existing value.
// The write is a single upsert statement, atomic with respect to the key.
func (s *Store) Put(namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", namespace, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, key, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Get loads the value at (namespace, key) into out. The second return is
// false when the key is absent. A stored blob that no longer parses is
// treated as absent so a corrupt record can never wedge the core; the
// corruption is logged and the caller proceeds from empty state.
func (s *Store) Get(namespace, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		slog.Error("corrupt blob, treating as absent",
			"component", "store",
			"action", "corrupt_blob",
			"namespace", namespace,
			"key", key,
			"error", err,
		)
		return false, nil
	}

	return true, nil
}

// Delete removes (namespace, key). Deleting an absent key is not an error.
func (s *Store) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

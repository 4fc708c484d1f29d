// Package cache persists conversation snapshots so a restarted client can
// render the last known view before the event stream is re-established.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatsync/models"
)

const (
	// DefaultDBFileName is the SQLite filename under the app data dir.
	DefaultDBFileName = "cache.db"

	snapshotKeyActiveUser = "active_user"
	snapshotKeyMessages   = "messages"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS snapshots (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`,
}

// Store is a thin wrapper around a SQLite connection holding the durable
// conversation snapshots.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) cache.db under the given data directory and runs
// migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create cache directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

// SaveMessages replaces the durable message-list snapshot.
func (s *Store) SaveMessages(messages []models.Message) error {
	if messages == nil {
		messages = []models.Message{}
	}
	value, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal message snapshot: %w", err)
	}
	return s.saveSnapshot(snapshotKeyMessages, value)
}

// LoadMessages returns the persisted message list, or nil when absent.
// Corrupt content is discarded and the key cleared, never surfaced.
func (s *Store) LoadMessages() ([]models.Message, error) {
	value, err := s.loadSnapshot(snapshotKeyMessages)
	if err != nil || value == nil {
		return nil, err
	}

	var messages []models.Message
	if err := json.Unmarshal(value, &messages); err != nil {
		s.discardCorrupt(snapshotKeyMessages, err)
		return nil, nil
	}
	return messages, nil
}

// SaveActiveUser replaces the durable active-peer snapshot. A nil user
// clears the key.
func (s *Store) SaveActiveUser(user *models.User) error {
	if user == nil {
		return s.deleteSnapshot(snapshotKeyActiveUser)
	}
	value, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal active user snapshot: %w", err)
	}
	return s.saveSnapshot(snapshotKeyActiveUser, value)
}

// LoadActiveUser returns the persisted active peer, or nil when absent.
// Corrupt content is discarded and the key cleared, never surfaced.
func (s *Store) LoadActiveUser() (*models.User, error) {
	value, err := s.loadSnapshot(snapshotKeyActiveUser)
	if err != nil || value == nil {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(value, &user); err != nil {
		s.discardCorrupt(snapshotKeyActiveUser, err)
		return nil, nil
	}
	return &user, nil
}

func (s *Store) saveSnapshot(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		string(value),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}
	return nil
}

func (s *Store) loadSnapshot(key string) ([]byte, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM snapshots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", key, err)
	}
	return []byte(value), nil
}

func (s *Store) deleteSnapshot(key string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", key, err)
	}
	return nil
}

func (s *Store) discardCorrupt(key string, cause error) {
	log.Printf("cache: discarding corrupt snapshot %q: %v", key, cause)
	if err := s.deleteSnapshot(key); err != nil {
		log.Printf("cache: clear corrupt snapshot %q: %v", key, err)
	}
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

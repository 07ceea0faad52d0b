// Package storage implements the Store: a single embedded SQLite database
// holding the append-only event log plus derived tables, with batched
// writes, retention, and an optional at-rest cipher for raw_json, grounded
// on ELIDA's internal/storage/sqlite.go (WAL mode, migration-on-open) and
// original_source/store.py (the full table/operation surface).
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"collector/internal/cryptoutil"
)

// ErrBusy marks transient SQLite lock contention (StoreBusy in spec terms).
// Callers retry with backoff; on exhaustion the batch is dropped and
// store.insert_fail_total is recorded.
var ErrBusy = errors.New("storage: database is locked")

// Store is the single embedded-database handle. Writes are serialized
// through mu, mirroring the teacher's single-mutex discipline; SQLite's own
// WAL + busy_timeout tolerate concurrent readers.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	cipher *cryptoutil.Cipher
}

// Options configures Open.
type Options struct {
	Path          string
	WALMode       bool
	BusyTimeoutMS int
	Cipher        *cryptoutil.Cipher // non-nil enables at-rest raw_json encryption
}

func Open(opts Options) (*Store, error) {
	if opts.Path != ":memory:" {
		if dir := dirOf(opts.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer discipline: the collector is the only process that
	// should hold a write connection to this file.
	db.SetMaxOpenConns(1)

	if opts.BusyTimeoutMS > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeoutMS)); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy_timeout: %w", err)
		}
	}
	if opts.WALMode {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{db: db, dbPath: opts.Path, cipher: opts.Cipher}
	slog.Info("storage initialized", "path", opts.Path, "encrypted", opts.Cipher != nil)
	return s, nil
}

func dirOf(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return ""
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB { return s.db }

// GetDBSize returns the on-disk size of the database file in bytes.
func (s *Store) GetDBSize() int64 {
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// CheckpointWAL truncates the write-ahead log after a retention pass.
func (s *Store) CheckpointWAL() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Vacuum reclaims space after heavy deletes.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("VACUUM")
	return err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "database is locked") ||
		strings.Contains(strings.ToLower(err.Error()), "busy")
}

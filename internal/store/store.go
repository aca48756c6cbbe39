// Package store owns the relational schema and every row of the analytics
// database: competitors, videos, playlists, playlist membership, stats
// history and the frequency cache. It exposes the schema manager
// (Initialize, Migrate), transaction helpers and read-only accessors.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// DefaultPath is where the database lives unless configured otherwise.
const DefaultPath = "instance/database.db"

// Options control how a database file is opened.
type Options struct {
	// ReadOnly opens a query-only handle and skips the writer lock.
	// Dashboards and exports use read-only handles concurrently with one writer.
	ReadOnly bool
	// LockTimeout bounds how long a writer waits for the advisory lock.
	LockTimeout time.Duration
	// Mirror receives every backup written by Migrate. Optional.
	Mirror BackupMirror
	Logger *slog.Logger
}

// Store is a handle on one database file.
type Store struct {
	db     *sqlx.DB
	path   string
	lock   *FileLock
	mirror BackupMirror
	log    *slog.Logger
}

// Open opens (creating if needed) the database at path. It does not apply
// migrations; use Initialize or Migrate for that.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidConfig, "database path is empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lock *FileLock
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, apperrors.Transient(apperrors.CodeIO, "create database directory", err)
		}
		timeout := opts.LockTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		lock = NewFileLock(path)
		if err := lock.Lock(timeout); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", dsn(path, opts.ReadOnly))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if !opts.ReadOnly {
		// Single connection for the writer: one ingestion/analytics process at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		lock.Unlock()
		return nil, apperrors.ClassifyStorage("ping sqlite "+path, err)
	}

	return &Store{db: db, path: path, lock: lock, mirror: opts.Mirror, log: logger}, nil
}

func dsn(path string, readOnly bool) string {
	d := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	if readOnly {
		d += "&_pragma=query_only(1)"
	}
	return d
}

// Close releases the connection pool and the writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		s.lock.Unlock()
	}
	return err
}

// DB exposes the underlying handle for read accessors in sibling packages.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Logger returns the store's logger.
func (s *Store) Logger() *slog.Logger {
	return s.log
}

// WithTx runs fn inside one transaction. The transaction is rolled back if
// fn returns an error, panics, or ctx is cancelled before commit.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.ClassifyStorage("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.ClassifyStorage("commit transaction", err)
	}
	return nil
}

// userTables lists application tables present in the database.
func userTables(ctx context.Context, q sqlx.QueryerContext) ([]string, error) {
	var names []string
	err := sqlx.SelectContext(ctx, q, &names,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, apperrors.ClassifyStorage("list tables", err)
	}
	return names, nil
}

// Package storage persists sessions, worker records, macro records and the
// per-session protocol in SQLite. The worker table is the single shared
// signal between the scheduler and its workers.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrStoreClosed indicates the underlying database connection is unavailable.
	ErrStoreClosed = errors.New("storage: closed")
	// ErrSessionNotFound is returned for tokens that were never issued.
	ErrSessionNotFound = errors.New("storage: session not found")
	// ErrSessionExpired is returned for tokens past their expiry. The row is kept.
	ErrSessionExpired = errors.New("storage: session expired")
	// ErrSessionExists is returned when a token is issued twice.
	ErrSessionExists = errors.New("storage: session already exists")
	// ErrWorkerNotFound is returned for unknown worker slots.
	ErrWorkerNotFound = errors.New("storage: worker not found")
	// ErrMacroNotFound is returned for unknown (token, macro id) pairs.
	ErrMacroNotFound = errors.New("storage: macro not found")
	// ErrDuplicateMacro is returned when a (token, macro id) pair is submitted twice.
	ErrDuplicateMacro = errors.New("storage: duplicate macro")
	// ErrStaleTransition is returned when a macro status update would move backwards.
	ErrStaleTransition = errors.New("storage: stale macro transition")
)

// Store is the SQLite-backed session store.
type Store struct {
	db  *sql.DB
	now func() time.Time

	observerMu sync.RWMutex
	observers  []Observer
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// New opens dsn, creating the file with owner-only permissions when it is
// on disk, and brings the schema up to date. dsn is a path, a file: URI or
// ":memory:".
func New(dsn string) (*Store, error) {
	path, onDisk := diskPath(dsn)
	if onDisk {
		// Tokens and operator names live here.
		if err := createPrivateFile(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if onDisk {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	} else {
		// Every connection to :memory: sees its own database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// diskPath returns the file behind dsn and whether there is one.
func diskPath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "", dsn == ":memory:":
		return "", false
	case strings.HasPrefix(dsn, "file:"):
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" || path == ":memory:" || u.Query().Get("mode") == "memory" {
			return "", false
		}
		return path, true
	case strings.Contains(dsn, "://"):
		return "", false
	}
	return dsn, true
}

// createPrivateFile creates path and its directory with owner-only
// permissions. Existing files are left alone.
func createPrivateFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, os.ErrExist):
		return nil
	}
	return fmt.Errorf("create database file: %w", err)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// AddObserver registers observer for every change event.
func (s *Store) AddObserver(observer Observer) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, observer)
}

// notify hands event to each observer on its own goroutine; a slow
// observer never holds up a write.
func (s *Store) notify(event Event) {
	s.observerMu.RLock()
	defer s.observerMu.RUnlock()
	for _, observer := range s.observers {
		go observer.HandleStorageEvent(event)
	}
}

// withRetry reruns fn while SQLite reports the database busy, backing off
// 100ms, 200ms, 400ms.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := 100 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt == 3 || !isBusyError(err) {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func sqliteCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.Code(), true
}

func isBusyError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED)
}

func isUniqueViolation(err error) bool {
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return nil
}

func millis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

// Package store is the durable coordination layer of the factory. Every
// worker role talks to the single SQLite file through this package; there is
// no other channel between processes. It exposes typed records per entity and
// the atomic claim primitive workers use to take jobs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Static errors for store operations.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a guarded transition finds the job in a
	// different state than required.
	ErrConflict = errors.New("store: state conflict")
)

// Store wraps the SQLite database holding all factory state.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Used by tests to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode keeps reader roles from blocking the writer; the immediate
// transaction lock makes the claim transaction acquire its write lock up
// front.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		url.PathEscape(path),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection sidesteps SQLITE_BUSY between pool members.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema. Every statement is idempotent.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// nowUnix returns the current time as unix seconds with sub-second precision,
// the representation every timestamp column uses.
func (s *Store) nowUnix() float64 {
	return unix(s.now())
}

// NowUnix exposes the store clock so callers stamp records consistently with
// the columns the store writes itself.
func (s *Store) NowUnix() float64 {
	return s.nowUnix()
}

// unix converts a time to the REAL unix-seconds column representation.
func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// nullStr converts a nullable column to *string.
func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// nullFloat converts a nullable column to *float64.
func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// strArg converts *string to a driver argument.
func strArg(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// floatArg converts *float64 to a driver argument.
func floatArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

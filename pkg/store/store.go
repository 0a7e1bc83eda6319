package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cuemby/dataorchestrator/pkg/log"
)

// Store is the orchestrator's durable state store, backed by a single
// SQLite file. It is safe for concurrent use from multiple goroutines,
// and from multiple OS processes sharing the same file.
type Store struct {
	db   *sql.DB
	path string
}

const busyTimeoutMillis = 10000

// Open opens (creating if necessary) the SQLite database at path,
// applies pragmas, and runs any pending schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	// SQLite has no real concurrent-writer story; serialize on one
	// connection so WithTx's retry loop sees SQLITE_BUSY only from
	// other processes, not from ourselves racing our own pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// maxTxAttempts bounds WithTx's retry loop. Open Question (a) in
// SPEC_FULL.md: retries are bounded, never infinite.
const maxTxAttempts = 5

// retryBackoff is the fixed delay between bounded retry attempts
// (spec.md §4.1: "e.g., 1 second").
const retryBackoff = 1 * time.Second

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error. Transactions that fail with SQLITE_BUSY or
// SQLITE_LOCKED are retried up to maxTxAttempts times with a fixed delay
// before the bounded-retry error is surfaced to the caller as
// ErrStoreBusy.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return err
		}
		lastErr = err
		if attempt < maxTxAttempts {
			log.WithComponent("store").Warn().
				Int("attempt", attempt).
				Err(err).
				Msg("store busy, retrying transaction")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreBusy, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isBusyErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_locked")
}

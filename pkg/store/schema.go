package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the current migration target. Mirrors the Python
// original's single 0→1 bump, extended with a second step that adds
// indexes on tasks(nid) and tasks(state) for the task-history lookups.
const schemaVersion = 2

// ensureSchema creates the settings/data_nodes/tasks tables if absent and
// walks the migration chain from whatever version is currently recorded
// up to schemaVersion, one transaction per step.
func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}

	version, err := s.schemaVersionLocked(ctx)
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema_version %d is newer than this binary supports (%d): unknown versions fail loudly", version, schemaVersion)
	}

	for version < schemaVersion {
		next := version + 1
		if err := s.runTx(ctx, func(tx *sql.Tx) error {
			return migrations[next](tx)
		}); err != nil {
			return fmt.Errorf("migrate to version %d: %w", next, err)
		}
		version = next
	}
	return nil
}

func (s *Store) schemaVersionLocked(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var version int
	if _, err := fmt.Sscanf(value, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse schema_version %q: %w", value, err)
	}
	return version, nil
}

// migrations maps target version -> the statements that bring the schema
// from version-1 to that version, plus bumping the recorded version.
var migrations = map[int]func(tx *sql.Tx) error{
	1: func(tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE tasks (
				tid          TEXT PRIMARY KEY,
				nid          TEXT NOT NULL,
				state        TEXT NOT NULL,
				started_at   TEXT NOT NULL,
				completed_at TEXT,
				info         TEXT NOT NULL DEFAULT '{}'
			)`,
			`CREATE TABLE data_nodes (
				nid         TEXT PRIMARY KEY,
				state       TEXT NOT NULL,
				current_tid TEXT REFERENCES tasks(tid)
			)`,
			`INSERT OR REPLACE INTO settings(key, value) VALUES ('schema_version', '1')`,
		}
		return execAll(tx, stmts)
	},
	2: func(tx *sql.Tx) error {
		stmts := []string{
			`CREATE INDEX IF NOT EXISTS idx_tasks_nid ON tasks(nid)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
			`INSERT OR REPLACE INTO settings(key, value) VALUES ('schema_version', '2')`,
		}
		return execAll(tx, stmts)
	},
}

func execAll(tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

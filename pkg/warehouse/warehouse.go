package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cuemby/dataorchestrator/pkg/types"
)

// Warehouse is the modernc.org/sqlite-backed reference implementation of
// types.Warehouse.
type Warehouse struct {
	db *sql.DB
}

// Open opens (creating if absent) the warehouse database at path.
func Open(ctx context.Context, path string) (*Warehouse, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse %s: %w", path, err)
	}
	return &Warehouse{db: db}, nil
}

// Close closes the underlying database handle.
func (w *Warehouse) Close() error { return w.db.Close() }

func tableName(schema, table string) string {
	return fmt.Sprintf("%s_%s", schema, table)
}

// ExecuteSQL runs an arbitrary statement, for refreshers that need
// direct access beyond the Create/Load helpers (e.g. DDL for a staging
// table they manage themselves).
func (w *Warehouse) ExecuteSQL(ctx context.Context, stmt string) error {
	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("execute sql: %w", err)
	}
	return nil
}

// CreateOrReplaceModel builds schema.table atomically: the select is
// materialized under a temporary name, the old table is dropped, and the
// temporary table is renamed into place, all inside one transaction.
func (w *Warehouse) CreateOrReplaceModel(ctx context.Context, schema, table, selectSQL string) error {
	target := tableName(schema, table)
	tmp := fmt.Sprintf("%s__tmp_%s", target, uuid.New().String()[:8])

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create-or-replace %s: %w", target, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE "%s" AS %s`, tmp, selectSQL)); err != nil {
		return fmt.Errorf("materialize %s: %w", target, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, target)); err != nil {
		return fmt.Errorf("drop old %s: %w", target, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE "%s" RENAME TO "%s"`, tmp, target)); err != nil {
		return fmt.Errorf("rename into %s: %w", target, err)
	}
	return tx.Commit()
}

// LoadRawRecords appends records to schema.table_raw, creating the raw
// table on first use. Each record is stored as its JSON encoding
// alongside an optional primary_key (read from an "id" field if
// present) and an ins_at timestamp, mirroring the original's
// update_raw_with_records.
func (w *Warehouse) LoadRawRecords(ctx context.Context, schema, table string, records []map[string]any) error {
	raw := tableName(schema, table) + "_raw"

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load raw %s: %w", raw, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			primary_key TEXT,
			data        TEXT NOT NULL,
			ins_at      TEXT NOT NULL
		)
	`, raw)); err != nil {
		return fmt.Errorf("ensure raw table %s: %w", raw, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO "%s" (primary_key, data, ins_at) VALUES (?, ?, ?)`, raw))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", raw, err)
	}
	defer stmt.Close()

	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record for %s: %w", raw, err)
		}
		var pk sql.NullString
		if id, ok := record["id"]; ok {
			pk = sql.NullString{String: fmt.Sprintf("%v", id), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, pk, string(data), now); err != nil {
			return fmt.Errorf("insert record into %s: %w", raw, err)
		}
	}
	return tx.Commit()
}

var _ types.Warehouse = (*Warehouse)(nil)

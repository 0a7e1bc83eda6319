package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/dataorchestrator/pkg/types"
)

// NodeRow is the persisted row shape for a data node's bookkeeping state
// (not the node's definition, which lives only in memory / source files).
type NodeRow struct {
	NID        string
	State      types.NodeState
	CurrentTID string // id of the in-flight task; empty when none is running
}

// UpsertNodeState inserts or updates a node's persisted state row.
func (s *Store) UpsertNodeState(ctx context.Context, nid string, state types.NodeState) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertNodeStateTx(tx, nid, state)
	})
}

func upsertNodeStateTx(tx *sql.Tx, nid string, state types.NodeState) error {
	_, err := tx.Exec(`
		INSERT INTO data_nodes(nid, state) VALUES (?, ?)
		ON CONFLICT(nid) DO UPDATE SET state = excluded.state
	`, nid, string(state))
	if err != nil {
		return fmt.Errorf("upsert node state %s: %w", nid, err)
	}
	return nil
}

// GetNodeState returns the persisted row for nid, or ErrNotFound.
func (s *Store) GetNodeState(ctx context.Context, nid string) (NodeRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT nid, state, COALESCE(current_tid, '') FROM data_nodes WHERE nid = ?
	`, nid)
	var r NodeRow
	if err := row.Scan(&r.NID, &r.State, &r.CurrentTID); err != nil {
		if err == sql.ErrNoRows {
			return NodeRow{}, ErrNotFound
		}
		return NodeRow{}, fmt.Errorf("get node state %s: %w", nid, err)
	}
	return r, nil
}

// ListNodeStates returns every persisted node row.
func (s *Store) ListNodeStates(ctx context.Context) ([]NodeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nid, state, COALESCE(current_tid, '') FROM data_nodes
	`)
	if err != nil {
		return nil, fmt.Errorf("list node states: %w", err)
	}
	defer rows.Close()

	var out []NodeRow
	for rows.Next() {
		var r NodeRow
		if err := rows.Scan(&r.NID, &r.State, &r.CurrentTID); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteNode removes a node's persisted state and all of its task history.
func (s *Store) DeleteNode(ctx context.Context, nid string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM data_nodes WHERE nid = ?`, nid); err != nil {
			return fmt.Errorf("delete node %s: %w", nid, err)
		}
		if _, err := tx.Exec(`DELETE FROM tasks WHERE nid = ?`, nid); err != nil {
			return fmt.Errorf("delete tasks for node %s: %w", nid, err)
		}
		return nil
	})
}

// setCurrentTIDTx sets the node's current_tid pointer within an
// already-open transaction (used by StartTask).
func setCurrentTIDTx(tx *sql.Tx, nid, tid string) error {
	_, err := tx.Exec(`UPDATE data_nodes SET current_tid = ? WHERE nid = ?`, tid, nid)
	if err != nil {
		return fmt.Errorf("set current_tid for %s: %w", nid, err)
	}
	return nil
}

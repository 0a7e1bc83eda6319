package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/dataorchestrator/pkg/types"
)

// InsertTask persists a new RUNNING task row and, in the same
// transaction, unconditionally sets the owning node's state (inserting
// the node row if absent). Unlike StartTask it checks no precondition
// and does not set current_tid.
func (s *Store) InsertTask(ctx context.Context, task *types.Task, nodeState types.NodeState) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertTaskTx(tx, task); err != nil {
			return err
		}
		return upsertNodeStateTx(tx, task.NodeID, nodeState)
	})
}

func insertTaskTx(tx *sql.Tx, task *types.Task) error {
	info, err := json.Marshal(task.Info)
	if err != nil {
		return fmt.Errorf("marshal task info: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO tasks(tid, nid, state, started_at, completed_at, info)
		VALUES (?, ?, ?, ?, NULL, ?)
	`, task.ID, task.NodeID, string(task.State), task.StartedAt.UTC().Format(time.RFC3339Nano), string(info))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

// ErrInvalidState is returned by StartTask when the node is not in one
// of the caller's allowed preconditions at the moment of the check.
var ErrInvalidState = fmt.Errorf("node not in an allowed state to start a task")

// StartTask atomically verifies the node's current state is one of
// allowed, inserts a new RUNNING task row, and transitions the node to
// newNodeState with current_tid pointing at the new task — all within
// one transaction, so that "at most one worker observes STALE and
// transitions it" (spec property 1/2) holds even under concurrent
// callers racing the same node. Returns ErrInvalidState if the
// precondition fails; the caller (pkg/tasks) turns that into the
// distinguished Not-stale condition for a plain start, or bypasses the
// check entirely by passing a nil allowed list for a forced start.
func (s *Store) StartTask(ctx context.Context, task *types.Task, allowed []types.NodeState, newNodeState types.NodeState) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if allowed != nil {
			var current string
			err := tx.QueryRow(`SELECT state FROM data_nodes WHERE nid = ?`, task.NodeID).Scan(&current)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("read node state %s: %w", task.NodeID, err)
			}
			ok := false
			for _, a := range allowed {
				if types.NodeState(current) == a {
					ok = true
					break
				}
			}
			if !ok {
				return ErrInvalidState
			}
		}
		if err := insertTaskTx(tx, task); err != nil {
			return err
		}
		if err := upsertNodeStateTx(tx, task.NodeID, newNodeState); err != nil {
			return err
		}
		return setCurrentTIDTx(tx, task.NodeID, task.ID)
	})
}

// markTaskTerminalTx transitions tid to state, merging errInfo's Error
// and Traceback fields into the info blob insertTaskTx wrote at start
// rather than replacing it outright — PID, StdoutPath, and StderrPath
// must survive a terminal transition so last_task_for_node can still
// point an operator at a failed refresh's logs.
func markTaskTerminalTx(tx *sql.Tx, tid string, state types.TaskState, errInfo types.TaskInfo) (nid string, err error) {
	var existingJSON string
	if err := tx.QueryRow(`SELECT nid, info FROM tasks WHERE tid = ?`, tid).Scan(&nid, &existingJSON); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read task %s: %w", tid, err)
	}

	var info types.TaskInfo
	if err := json.Unmarshal([]byte(existingJSON), &info); err != nil {
		return "", fmt.Errorf("unmarshal existing task info %s: %w", tid, err)
	}
	info.Error = errInfo.Error
	info.Traceback = errInfo.Traceback

	infoJSON, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal task info: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE tasks SET state = ?, completed_at = ?, info = ? WHERE tid = ?
	`, string(state), time.Now().UTC().Format(time.RFC3339Nano), string(infoJSON), tid); err != nil {
		return "", fmt.Errorf("update task %s: %w", tid, err)
	}
	return nid, nil
}

// currentNodeStateTx reads a node's state and current_tid for the
// completion/failure idempotence check. Returns ErrNotFound if absent.
func currentNodeStateTx(tx *sql.Tx, nid string) (state types.NodeState, currentTID string, err error) {
	var s string
	err = tx.QueryRow(`SELECT state, COALESCE(current_tid, '') FROM data_nodes WHERE nid = ?`, nid).Scan(&s, &currentTID)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return types.NodeState(s), currentTID, nil
}

// CompleteTask marks tid DONE and, only if the node's current_tid still
// points at tid (the idempotence guard from spec.md §4.3's "Ordering"
// note — a stale completion must not clobber a newer run), transitions
// the node onward: REFRESHING → FRESH, or REFRESHING_STALE → STALE (the
// in-flight task's own success must not paper over an invalidation that
// arrived while it was running — invariant I4). current_tid is cleared
// either way once the node transition is applied.
func (s *Store) CompleteTask(ctx context.Context, tid string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		nid, err := markTaskTerminalTx(tx, tid, types.TaskStateDone, types.TaskInfo{})
		if err != nil {
			return err
		}
		state, currentTID, err := currentNodeStateTx(tx, nid)
		if err != nil {
			return err
		}
		if currentTID != tid {
			return nil // superseded by a newer task; idempotent no-op
		}
		var next types.NodeState
		switch state {
		case types.NodeStateRefreshing:
			next = types.NodeStateFresh
		case types.NodeStateRefreshingStale:
			next = types.NodeStateStale
		default:
			return nil
		}
		if _, err := tx.Exec(`UPDATE data_nodes SET state = ?, current_tid = NULL WHERE nid = ?`, string(next), nid); err != nil {
			return fmt.Errorf("transition node %s to %s: %w", nid, next, err)
		}
		return nil
	})
}

// FailTask marks tid ERRORED with the refresher's error/traceback and,
// under the same current_tid idempotence guard as CompleteTask,
// transitions the node back to STALE (from either REFRESHING or
// REFRESHING_STALE — a failed refresh leaves no fresher data either way).
func (s *Store) FailTask(ctx context.Context, tid, errMsg, traceback string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		nid, err := markTaskTerminalTx(tx, tid, types.TaskStateErrored, types.TaskInfo{Error: errMsg, Traceback: traceback})
		if err != nil {
			return err
		}
		_, currentTID, err := currentNodeStateTx(tx, nid)
		if err != nil {
			return err
		}
		if currentTID != tid {
			return nil
		}
		if _, err := tx.Exec(`UPDATE data_nodes SET state = ?, current_tid = NULL WHERE nid = ?`, string(types.NodeStateStale), nid); err != nil {
			return fmt.Errorf("transition node %s to stale: %w", nid, err)
		}
		return nil
	})
}

// MarkZombie marks tid ZOMBIE (its owning process no longer exists) and,
// under the same current_tid guard, resets the node to STALE so the next
// tick can retry it.
func (s *Store) MarkZombie(ctx context.Context, tid string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		nid, err := markTaskTerminalTx(tx, tid, types.TaskStateZombie, types.TaskInfo{})
		if err != nil {
			return err
		}
		_, currentTID, err := currentNodeStateTx(tx, nid)
		if err != nil {
			return err
		}
		if currentTID != tid {
			return nil
		}
		if _, err := tx.Exec(`UPDATE data_nodes SET state = ?, current_tid = NULL WHERE nid = ?`, string(types.NodeStateStale), nid); err != nil {
			return fmt.Errorf("transition node %s to stale: %w", nid, err)
		}
		return nil
	})
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (*types.Task, error) {
	var (
		t            types.Task
		state        string
		startedAt    string
		completedAt  sql.NullString
		infoJSON     string
	)
	if err := row.Scan(&t.ID, &t.NodeID, &state, &startedAt, &completedAt, &infoJSON); err != nil {
		return nil, err
	}
	t.State = types.TaskState(state)
	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	t.StartedAt = started
	if completedAt.Valid && completedAt.String != "" {
		completed, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		t.CompletedAt = completed
	}
	if err := json.Unmarshal([]byte(infoJSON), &t.Info); err != nil {
		return nil, fmt.Errorf("unmarshal task info: %w", err)
	}
	return &t, nil
}

// ListRunningTasks returns every task still in the RUNNING state, used
// by the zombie sweep to check liveness of their owning process.
func (s *Store) ListRunningTasks(ctx context.Context) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tid, nid, state, started_at, completed_at, info
		FROM tasks WHERE state = ?
	`, string(types.TaskStateRunning))
	if err != nil {
		return nil, fmt.Errorf("list running tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LastTaskForNode returns the most recently started task for nid, or
// ErrNotFound if the node has never been refreshed.
func (s *Store) LastTaskForNode(ctx context.Context, nid string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tid, nid, state, started_at, completed_at, info
		FROM tasks WHERE nid = ? ORDER BY started_at DESC LIMIT 1
	`, nid)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last task for node %s: %w", nid, err)
	}
	return t, nil
}

// CountTasksByState returns the number of task rows in each state, for
// periodic metrics collection (pkg/metrics.Collector).
func (s *Store) CountTasksByState(ctx context.Context) (map[types.TaskState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count tasks by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.TaskState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan task state count: %w", err)
		}
		counts[types.TaskState(state)] = count
	}
	return counts, rows.Err()
}

// TaskByID returns a single task by id, or ErrNotFound.
func (s *Store) TaskByID(ctx context.Context, tid string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tid, nid, state, started_at, completed_at, info
		FROM tasks WHERE tid = ?
	`, tid)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", tid, err)
	}
	return t, nil
}

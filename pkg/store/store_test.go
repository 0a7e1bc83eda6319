package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dataorchestrator/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "orchestrator.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	version, err := s.schemaVersionLocked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestOpenRejectsNewerSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.sqlite3")

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	_, err = s.db.ExecContext(context.Background(),
		`UPDATE settings SET value = ? WHERE key = 'schema_version'`, schemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), path)
	assert.Error(t, err, "a schema_version newer than this binary supports must fail loudly, not be silently accepted")
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.sqlite3")

	s1, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s2.Close()

	version, err := s2.schemaVersionLocked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestNodeStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", row.NID)
	assert.Equal(t, types.NodeStateStale, row.State)
	assert.Empty(t, row.CurrentTID)

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateFresh))
	row, err = s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateFresh, row.State)
}

func TestGetNodeStateNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetNodeState(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNodeStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "a", types.NodeStateStale))
	require.NoError(t, s.UpsertNodeState(ctx, "b", types.NodeStateFresh))

	rows, err := s.ListNodeStates(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDeleteNodeRemovesTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	require.NoError(t, s.InsertTask(ctx, task, types.NodeStateRefreshing))

	require.NoError(t, s.DeleteNode(ctx, "n1"))

	_, err := s.GetNodeState(ctx, "n1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TaskByID(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertAndCompleteTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))
	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	require.NoError(t, s.StartTask(ctx, task, []types.NodeState{types.NodeStateStale}, types.NodeStateRefreshing))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshing, row.State)

	require.NoError(t, s.CompleteTask(ctx, "t1"))

	row, err = s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateFresh, row.State)
	assert.Empty(t, row.CurrentTID)

	stored, err := s.TaskByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateDone, stored.State)
	assert.False(t, stored.CompletedAt.IsZero())
}

func TestCompleteTaskSkipsStaleNodeTransition(t *testing.T) {
	// The current_tid guard passes here (the node still points at t1); what
	// is checked is CompleteTask's transition rule: a node re-invalidated to
	// REFRESHING_STALE mid-flight must not be bounced back to FRESH by a task
	// launched before the invalidation.
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))
	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	require.NoError(t, s.StartTask(ctx, task, []types.NodeState{types.NodeStateStale}, types.NodeStateRefreshing))

	// Simulate a cascading invalidation arriving while the task is in flight.
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateRefreshingStale))

	require.NoError(t, s.CompleteTask(ctx, "t1"))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State, "a REFRESHING_STALE node must collapse to STALE, never FRESH, on completion")
}

func TestFailTaskResetsNodeToStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))
	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	require.NoError(t, s.StartTask(ctx, task, []types.NodeState{types.NodeStateStale}, types.NodeStateRefreshing))

	require.NoError(t, s.FailTask(ctx, "t1", "boom", "traceback here"))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State)

	stored, err := s.TaskByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateErrored, stored.State)
	assert.Equal(t, "boom", stored.Info.Error)
}

func TestFailTaskPreservesPIDAndLogPaths(t *testing.T) {
	// markTaskTerminalTx must merge the error fields into the info blob
	// insertTaskTx wrote at start, not replace it, so a failed task's
	// logs stay reachable through its own row.
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))
	task := &types.Task{
		ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now(),
		Info: types.TaskInfo{PID: 4242, StdoutPath: "/logs/t1/stdout.log", StderrPath: "/logs/t1/stderr.log"},
	}
	require.NoError(t, s.StartTask(ctx, task, []types.NodeState{types.NodeStateStale}, types.NodeStateRefreshing))

	require.NoError(t, s.FailTask(ctx, "t1", "boom", "traceback here"))

	stored, err := s.TaskByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "boom", stored.Info.Error)
	assert.Equal(t, "traceback here", stored.Info.Traceback)
	assert.Equal(t, 4242, stored.Info.PID, "PID must survive the terminal transition")
	assert.Equal(t, "/logs/t1/stdout.log", stored.Info.StdoutPath)
	assert.Equal(t, "/logs/t1/stderr.log", stored.Info.StderrPath)
}

func TestMarkZombieResetsNodeToStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))
	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	require.NoError(t, s.StartTask(ctx, task, []types.NodeState{types.NodeStateStale}, types.NodeStateRefreshing))

	require.NoError(t, s.MarkZombie(ctx, "t1"))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State)

	stored, err := s.TaskByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateZombie, stored.State)
}

func TestListRunningTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))
	require.NoError(t, s.StartTask(ctx, &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}, []types.NodeState{types.NodeStateStale}, types.NodeStateRefreshing))

	running, err := s.ListRunningTasks(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "t1", running[0].ID)

	require.NoError(t, s.CompleteTask(ctx, "t1"))

	running, err = s.ListRunningTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetSetting(ctx, "k", "v1"))
	v, err := s.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, s.SetSetting(ctx, "k", "v2"))
	v, err = s.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestStartTaskEnforcesAllowedStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateFresh))

	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	err := s.StartTask(ctx, task, []types.NodeState{types.NodeStateStale, types.NodeStateExpired}, types.NodeStateRefreshing)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = s.TaskByID(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound, "no task row should be created when the precondition fails")
}

func TestStartTaskSucceedsWhenAllowed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	require.NoError(t, s.StartTask(ctx, task, []types.NodeState{types.NodeStateStale, types.NodeStateExpired}, types.NodeStateRefreshing))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshing, row.State)
	assert.Equal(t, "t1", row.CurrentTID)
}

func TestCascadeStaleTransitionsFreshAndRefreshing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodeState(ctx, "fresh-node", types.NodeStateFresh))
	require.NoError(t, s.UpsertNodeState(ctx, "refreshing-node", types.NodeStateRefreshing))
	require.NoError(t, s.UpsertNodeState(ctx, "stale-node", types.NodeStateStale))

	require.NoError(t, s.CascadeStale(ctx, []string{"fresh-node", "refreshing-node", "stale-node", "missing-node"}))

	row, err := s.GetNodeState(ctx, "fresh-node")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State)

	row, err = s.GetNodeState(ctx, "refreshing-node")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshingStale, row.State)

	row, err = s.GetNodeState(ctx, "stale-node")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State, "an already-stale node is left untouched")
}

func TestStartTaskForceBypassesPrecondition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateFresh))

	task := &types.Task{ID: "t1", NodeID: "n1", State: types.TaskStateRunning, StartedAt: time.Now()}
	require.NoError(t, s.StartTask(ctx, task, nil, types.NodeStateRefreshing))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshing, row.State)
}

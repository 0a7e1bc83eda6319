package tasks

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dataorchestrator/pkg/store"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

func openTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "orchestrator.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s), s
}

func TestStartTaskRequiresStale(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateFresh))

	_, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	assert.ErrorIs(t, err, ErrNotStale)
}

func TestStartTaskSucceedsOnStale(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	task, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	require.NoError(t, err)
	assert.Equal(t, "n1", task.NodeID)
	assert.NotEmpty(t, task.ID)

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshing, row.State)
}

func TestForceStartTaskBypassesStaleCheck(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateFresh))

	task, err := m.ForceStartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshing, row.State)
}

func TestCompleteAndFailTask(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	task, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	require.NoError(t, err)
	require.NoError(t, m.CompleteTask(ctx, task.ID))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateFresh, row.State)

	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))
	task2, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	require.NoError(t, err)
	require.NoError(t, m.FailTask(ctx, task2.ID, "boom", "trace"))

	row, err = s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State)
}

func TestCompleteTaskIsIdempotentOnRepeat(t *testing.T) {
	// A second complete_task call for an already-terminal task must not
	// be able to transition the node a second time.
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	task, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	require.NoError(t, err)
	require.NoError(t, m.CompleteTask(ctx, task.ID))
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	// Replaying CompleteTask for the same (now stale again) tid must not
	// flip the node back to FRESH, since current_tid no longer matches.
	require.NoError(t, m.CompleteTask(ctx, task.ID))

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State)
}

func TestLastTaskForNode(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	_, err := m.LastTaskForNode(ctx, "n1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	task, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	require.NoError(t, err)

	last, err := m.LastTaskForNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, last.ID)
}

func TestSweepZombiesLeavesLiveTasksAlone(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	_, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: os.Getpid()})
	require.NoError(t, err)

	swept, err := m.SweepZombies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshing, row.State)
}

func TestSweepZombiesReapsDeadProcess(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "n1", types.NodeStateStale))

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPID := cmd.Process.Pid

	task, err := m.StartTask(ctx, "n1", types.TaskInfo{PID: deadPID})
	require.NoError(t, err)

	swept, err := m.SweepZombies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	row, err := s.GetNodeState(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State)
	assert.Empty(t, row.CurrentTID)

	stored, err := s.TaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateZombie, stored.State)
}

func TestSetNodeStaleCascadesFreshAndRefreshing(t *testing.T) {
	m, s := openTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNodeState(ctx, "a", types.NodeStateFresh))
	require.NoError(t, s.UpsertNodeState(ctx, "b", types.NodeStateFresh))
	require.NoError(t, s.UpsertNodeState(ctx, "c", types.NodeStateRefreshing))

	require.NoError(t, m.SetNodeStale(ctx, []string{"a", "b", "c"}))

	rowA, err := s.GetNodeState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, rowA.State)

	rowC, err := s.GetNodeState(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateRefreshingStale, rowC.State)
}

func TestIsAliveRejectsNonPositivePID(t *testing.T) {
	assert.False(t, isAlive(0))
	assert.False(t, isAlive(-1))
}

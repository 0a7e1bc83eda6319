package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/metrics"
	"github.com/cuemby/dataorchestrator/pkg/store"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

// ErrNotStale is the distinguished condition raised by StartTask when the
// node is not currently STALE. Callers that want to bypass the
// precondition (an explicit user-triggered refresh) call ForceStartTask
// instead.
var ErrNotStale = errors.New("node is not stale")

// Manager is the Task Manager: it owns task-id generation and the
// not-stale/force-start distinction on top of pkg/store's atomic
// transitions, and sweeps zombie tasks left behind by dead workers.
type Manager struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewManager returns a Task Manager backed by s.
func NewManager(s *store.Store) *Manager {
	return &Manager{
		store:  s,
		logger: log.WithComponent("taskmanager"),
	}
}

// NewTaskID generates a task id in the "<UTC-timestamp>-<pid>" format.
// The timestamp carries microsecond resolution so that two tasks started
// by the same process within the same second still sort distinctly.
func NewTaskID() string {
	return fmt.Sprintf("%s-%d", time.Now().UTC().Format("20060102T150405.000000"), os.Getpid())
}

// StartTask transactionally verifies nid is STALE, inserts a RUNNING task
// row, and transitions the node to REFRESHING. Returns ErrNotStale if the
// node was not STALE at the moment of the check.
func (m *Manager) StartTask(ctx context.Context, nid string, info types.TaskInfo) (*types.Task, error) {
	task := &types.Task{
		ID:        NewTaskID(),
		NodeID:    nid,
		State:     types.TaskStateRunning,
		StartedAt: time.Now(),
		Info:      info,
	}
	err := m.store.StartTask(ctx, task, []types.NodeState{types.NodeStateStale}, types.NodeStateRefreshing)
	if errors.Is(err, store.ErrInvalidState) {
		return nil, ErrNotStale
	}
	if err != nil {
		return nil, fmt.Errorf("start task for node %s: %w", nid, err)
	}
	metrics.TasksStartedTotal.Inc()
	m.logger.Debug().Str("node_id", nid).Str("task_id", task.ID).Msg("task started")
	return task, nil
}

// ForceStartTask is StartTask without the STALE precondition, used for an
// explicit user-triggered refresh that must run regardless of the node's
// current state.
func (m *Manager) ForceStartTask(ctx context.Context, nid string, info types.TaskInfo) (*types.Task, error) {
	task := &types.Task{
		ID:        NewTaskID(),
		NodeID:    nid,
		State:     types.TaskStateRunning,
		StartedAt: time.Now(),
		Info:      info,
	}
	if err := m.store.StartTask(ctx, task, nil, types.NodeStateRefreshing); err != nil {
		return nil, fmt.Errorf("force start task for node %s: %w", nid, err)
	}
	metrics.TasksStartedTotal.Inc()
	m.logger.Debug().Str("node_id", nid).Str("task_id", task.ID).Bool("forced", true).Msg("task started")
	return task, nil
}

// CompleteTask marks tid DONE and advances its node onward (see
// pkg/store.CompleteTask for the exact transition rules).
func (m *Manager) CompleteTask(ctx context.Context, tid string) error {
	if err := m.store.CompleteTask(ctx, tid); err != nil {
		return fmt.Errorf("complete task %s: %w", tid, err)
	}
	metrics.TasksCompletedTotal.WithLabelValues("done").Inc()
	return nil
}

// FailTask marks tid ERRORED with the refresher's error and traceback, and
// resets its node to STALE.
func (m *Manager) FailTask(ctx context.Context, tid, errMsg, traceback string) error {
	if err := m.store.FailTask(ctx, tid, errMsg, traceback); err != nil {
		return fmt.Errorf("fail task %s: %w", tid, err)
	}
	metrics.TasksCompletedTotal.WithLabelValues("errored").Inc()
	return nil
}

// LastTaskForNode returns the newest task row for nid, or store.ErrNotFound
// if the node has never been refreshed.
func (m *Manager) LastTaskForNode(ctx context.Context, nid string) (*types.Task, error) {
	task, err := m.store.LastTaskForNode(ctx, nid)
	if err != nil {
		return nil, fmt.Errorf("last task for node %s: %w", nid, err)
	}
	return task, nil
}

// SweepZombies inspects every RUNNING task and marks it ZOMBIE if its
// owning process is no longer alive, resetting the node back to STALE so
// the next tick retries it. Returns the number of zombies found.
func (m *Manager) SweepZombies(ctx context.Context) (int, error) {
	running, err := m.store.ListRunningTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running tasks: %w", err)
	}

	swept := 0
	for _, task := range running {
		if isAlive(task.Info.PID) {
			continue
		}
		if err := m.store.MarkZombie(ctx, task.ID); err != nil {
			return swept, fmt.Errorf("mark zombie %s: %w", task.ID, err)
		}
		swept++
		metrics.ZombiesSweptTotal.Inc()
		m.logger.Warn().Str("node_id", task.NodeID).Str("task_id", task.ID).Int("pid", task.Info.PID).Msg("reaped zombie task")
	}
	return swept, nil
}

// isAlive reports whether pid refers to a live process, using the
// zero-signal liveness probe: FindProcess always succeeds on Unix, so the
// process's existence is only known by attempting to signal it.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

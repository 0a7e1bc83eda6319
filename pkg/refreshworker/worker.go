package refreshworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/metrics"
	"github.com/cuemby/dataorchestrator/pkg/tasks"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

// Worker is the Refresh Worker body, run inside the detached subprocess
// cmd/data-refresh-worker starts.
type Worker struct {
	tasks  *tasks.Manager
	logDir string
	logger zerolog.Logger

	// RedirectStreams controls whether Run reassigns the process-wide
	// os.Stdout/os.Stderr to the per-task prefixed log files. This is
	// true for the real subprocess entrypoint (cmd/data-refresh-worker,
	// which owns the whole process and exits right after Run returns)
	// and false in tests, which share a process with the test runner.
	RedirectStreams bool
}

// NewWorker returns a Worker that uses tm to start/complete/fail tasks
// and writes its per-task log files under logDir.
func NewWorker(tm *tasks.Manager, logDir string) *Worker {
	return &Worker{
		tasks:           tm,
		logDir:          logDir,
		logger:          log.WithComponent("refreshworker"),
		RedirectStreams: true,
	}
}

// Run executes node's refresh: it creates the pid/stdout/stderr files,
// starts the task (force-starting if force is set), invokes the node's
// refresher, and completes or fails the task. It returns nil whenever the
// task bookkeeping itself succeeded, even if the refresh failed — the
// failure is recorded in the task row, not returned as a process error,
// matching "crashes after step 3 leave the task row RUNNING and are
// reclaimed by the zombie sweeper" (i.e. bookkeeping failures are the
// only ones that should make the subprocess exit non-zero).
func (w *Worker) Run(ctx context.Context, node *types.Node, warehouse types.Warehouse, force bool) error {
	pidFile := w.logFile(node.ID, "pid")
	stdoutFile := w.logFile(node.ID, "stdout")
	stderrFile := w.logFile(node.ID, "stderr")

	stdout, err := os.Create(stdoutFile)
	if err != nil {
		return fmt.Errorf("create stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrFile)
	if err != nil {
		return fmt.Errorf("create stderr log: %w", err)
	}
	defer stderr.Close()

	pid := os.Getpid()

	if w.RedirectStreams {
		stdoutWrite, stopStdout, err := startPrefixedRedirect(stdout, pid)
		if err != nil {
			return err
		}
		defer stopStdout()
		stderrWrite, stopStderr, err := startPrefixedRedirect(stderr, pid)
		if err != nil {
			return err
		}
		defer stopStderr()
		os.Stdout = stdoutWrite
		os.Stderr = stderrWrite
	}

	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidFile)

	info := types.TaskInfo{PID: pid, StdoutPath: stdoutFile, StderrPath: stderrFile}

	var task *types.Task
	if force {
		task, err = w.tasks.ForceStartTask(ctx, node.ID, info)
	} else {
		task, err = w.tasks.StartTask(ctx, node.ID, info)
	}
	if err == tasks.ErrNotStale {
		w.logger.Info().Str("node_id", node.ID).Msg("node no longer stale, exiting without refreshing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("start task for node %s: %w", node.ID, err)
	}

	timer := metrics.NewTimer()
	refreshErr, traceback := w.invokeRefresher(ctx, node, warehouse)

	if refreshErr != nil {
		timer.ObserveDuration(metrics.TaskDuration)
		w.logger.Error().Err(refreshErr).Str("node_id", node.ID).Str("task_id", task.ID).Msg("refresh failed")
		if err := w.tasks.FailTask(ctx, task.ID, refreshErr.Error(), traceback); err != nil {
			return fmt.Errorf("fail task %s: %w", task.ID, err)
		}
		return nil
	}

	timer.ObserveDuration(metrics.TaskDuration)
	if err := w.tasks.CompleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	w.logger.Info().Str("node_id", node.ID).Str("task_id", task.ID).Msg("refresh completed")
	return nil
}

// invokeRefresher calls node's refresher, converting a panic into an
// error+traceback the same way an unhandled exception does in the
// original — the task is still failed, not left dangling.
func (w *Worker) invokeRefresher(ctx context.Context, node *types.Node, warehouse types.Warehouse) (err error, traceback string) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresher panicked: %v", r)
			traceback = string(debug.Stack())
		}
	}()
	if node.Refresher == nil {
		return fmt.Errorf("node %s has no refresher defined", node.ID), ""
	}
	refreshErr := node.Refresher.Refresh(ctx, types.RefresherContext{Node: node, Warehouse: warehouse})
	if refreshErr != nil {
		return refreshErr, ""
	}
	return nil, ""
}

func (w *Worker) logFile(nodeID, suffix string) string {
	return filepath.Join(w.logDir, fmt.Sprintf("%s.%s", nodeID, suffix))
}

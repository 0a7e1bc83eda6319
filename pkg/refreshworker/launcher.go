package refreshworker

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

// Launcher spawns cmd/data-refresh-worker as a detached subprocess. It
// satisfies pkg/scheduler.WorkerLauncher.
type Launcher struct {
	binaryPath string
	workDir    string
	logger     zerolog.Logger
}

// NewLauncher returns a Launcher that execs binaryPath (the
// cmd/data-refresh-worker entrypoint) against the data stack rooted at
// workDir.
func NewLauncher(binaryPath, workDir string) *Launcher {
	return &Launcher{
		binaryPath: binaryPath,
		workDir:    workDir,
		logger:     log.WithComponent("refreshworker-launcher"),
	}
}

// Launch starts the worker subprocess and returns once it has been
// handed off to the OS — it does not wait for the worker to exit. The
// child is made a session leader (Setsid) so it survives the
// orchestrator process exiting, matching the original's
// fork+setsid+umask detachment.
func (l *Launcher) Launch(ctx context.Context, logDir string, node *types.Node, force bool) error {
	args := []string{
		"--workdir", l.workDir,
		"--log-dir", logDir,
		"--node-id", node.ID,
	}
	if force {
		args = append(args, "--force")
	}

	cmd := exec.Command(l.binaryPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Dir = l.workDir

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch refresh worker for node %s: %w", node.ID, err)
	}

	l.logger.Debug().Str("node_id", node.ID).Int("pid", cmd.Process.Pid).Bool("forced", force).Msg("launched refresh worker")

	// Release drops this process's handle on the child without waiting
	// for it; the exited child is not reaped here. The worker removes its
	// own pid file, and a task row left RUNNING by a worker that died is
	// reclaimed by the Task Manager's zombie sweep.
	return cmd.Process.Release()
}

package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/metrics"
	"github.com/cuemby/dataorchestrator/pkg/tasks"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

// NodeRegistry is the slice of pkg/registry.Registry the scheduler needs.
type NodeRegistry interface {
	List() []*types.Node
	IsFresh(id string) bool
	DownstreamNodes(id string) []*types.Node
	LoadNodeStates(ctx context.Context) error
}

// WorkerLauncher launches a Refresh Worker for node, detached from the
// scheduler's own lifecycle, and returns once the worker has been handed
// off — it does not wait for the worker to finish.
type WorkerLauncher interface {
	Launch(ctx context.Context, logDir string, node *types.Node, force bool) error
}

// Report describes the outcome of a single tick.
type Report struct {
	LogDir          string
	NodesEvaluated  int
	WorkersLaunched []string
	ExpiredCascaded []string
}

// Scheduler runs the tick loop over a struct/ticker/mutex shape common
// to this codebase's background loops, here driving the data node DAG
// instead of container placement.
type Scheduler struct {
	registry NodeRegistry
	tasks    *tasks.Manager
	launcher WorkerLauncher
	workDir  string

	logger   zerolog.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
	interval time.Duration

	// maxConcurrentRefreshes caps the number of workers Tick launches in
	// a single pass; 0 means unbounded (spec.md's default: no in-process
	// limit). Open Question (b): an operator-facing cap is a reasonable
	// small addition, implemented as a counter rather than a worker pool
	// since launches are fire-and-forget subprocess starts, not tasks
	// whose completion this process waits on.
	maxConcurrentRefreshes int
}

// New creates a Scheduler. interval defaults to 30s (spec.md's suggested
// tick cadence) if zero.
func New(reg NodeRegistry, tm *tasks.Manager, launcher WorkerLauncher, workDir string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		registry: reg,
		tasks:    tm,
		launcher: launcher,
		workDir:  workDir,
		logger:   log.WithComponent("scheduler"),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

// Start begins the tick loop in the background.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the tick loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// SetMaxConcurrentRefreshes caps the number of Refresh Workers a single
// Tick will launch; 0 (the default) leaves it unbounded.
func (s *Scheduler) SetMaxConcurrentRefreshes(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConcurrentRefreshes = max
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")

	for {
		select {
		case <-ticker.C:
			if _, err := s.Tick(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("scheduler stopped")
			return
		}
	}
}

// Tick performs one scheduling pass: zombie sweep, STALE-readiness
// evaluation and worker launch, and stale_after expiry cascade. It is
// exported so both the background loop and a one-shot CLI invocation
// call the same code path.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.TickDuration)
		metrics.TicksTotal.Inc()
	}()

	logDir, err := s.newLogDir()
	if err != nil {
		return Report{}, fmt.Errorf("create tick log dir: %w", err)
	}
	report := Report{LogDir: logDir}

	// Refresh Workers run in separate processes and write node state
	// directly to the store; the registry's in-memory State is only a
	// cache, so it must be reloaded from the persisted rows before this
	// tick makes any readiness decision (persisted state is the source
	// of truth, per invariant I2).
	if err := s.registry.LoadNodeStates(ctx); err != nil {
		return Report{}, fmt.Errorf("reload node states: %w", err)
	}

	s.sweepZombies()

	nodes := s.registry.List()
	report.NodesEvaluated = len(nodes)

	counts := map[types.NodeState]int{}
	for _, n := range nodes {
		counts[n.State]++
	}
	for state, count := range counts {
		metrics.NodesTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	metrics.OrphanNodesTotal.Set(float64(counts[types.NodeStateOrphan]))

	for _, n := range nodes {
		switch n.State {
		case types.NodeStateStale:
			if !s.isReady(n) {
				continue
			}
			if s.maxConcurrentRefreshes > 0 && len(report.WorkersLaunched) >= s.maxConcurrentRefreshes {
				continue
			}
			if err := s.launcher.Launch(ctx, logDir, n, false); err != nil {
				s.logger.Error().Err(err).Str("node_id", n.ID).Msg("failed to launch refresh worker")
				continue
			}
			report.WorkersLaunched = append(report.WorkersLaunched, n.ID)
		default:
			if s.hasExpired(ctx, n) {
				if err := s.cascadeExpiry(ctx, n); err != nil {
					s.logger.Error().Err(err).Str("node_id", n.ID).Msg("failed to cascade expiry")
					continue
				}
				report.ExpiredCascaded = append(report.ExpiredCascaded, n.ID)
			}
		}
	}

	return report, nil
}

// isReady implements "all(u.is_fresh() for u in upstream)". A node with
// no upstream is ready immediately.
func (s *Scheduler) isReady(n *types.Node) bool {
	for _, up := range n.Upstream {
		if !s.registry.IsFresh(up) {
			return false
		}
	}
	return true
}

// hasExpired reports whether n carries a stale_after TTL and its last
// task started long enough ago that the TTL has elapsed.
func (s *Scheduler) hasExpired(ctx context.Context, n *types.Node) bool {
	if n.StaleAfter == nil {
		return false
	}
	last, err := s.tasks.LastTaskForNode(ctx, n.ID)
	if err != nil {
		return false // never refreshed: nothing to expire yet
	}
	return !last.StartedAt.IsZero() && time.Now().After(last.StartedAt.Add(*n.StaleAfter))
}

// cascadeExpiry invalidates n and everything downstream of it.
func (s *Scheduler) cascadeExpiry(ctx context.Context, n *types.Node) error {
	downstream := s.registry.DownstreamNodes(n.ID)
	ids := make([]string, 0, len(downstream)+1)
	ids = append(ids, n.ID)
	for _, d := range downstream {
		ids = append(ids, d.ID)
	}
	return s.tasks.SetNodeStale(ctx, ids)
}

// sweepZombies runs the zombie sweep in a goroutine the tick does not
// wait on. The Python original forks a detached child for this step so a
// slow or crashing sweep never blocks the tick; SweepZombies only
// performs liveness checks and sqlite writes against state already
// durable in the store (it shares no memory the tick still needs), so a
// goroutine gives the same non-blocking property without the process
// isolation the step doesn't need — unlike the Refresh Worker, which must
// outlive the scheduler and so is a real subprocess (pkg/refreshworker).
func (s *Scheduler) sweepZombies() {
	go func() {
		n, err := s.tasks.SweepZombies(context.Background())
		if err != nil {
			s.logger.Error().Err(err).Msg("zombie sweep failed")
			return
		}
		if n > 0 {
			s.logger.Info().Int("count", n).Msg("swept zombie tasks")
		}
	}()
}

// NewLogDir creates and returns a fresh timestamped log directory under
// workDir/logs, the same naming scheme Tick uses for its own runs. It lets
// a caller launching a Refresh Worker outside the tick loop (an explicit
// user-triggered refresh) give that worker the same log layout a
// scheduled one would get.
func (s *Scheduler) NewLogDir() (string, error) {
	return s.newLogDir()
}

func (s *Scheduler) newLogDir() (string, error) {
	dir := filepath.Join(s.workDir, "logs", fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.New().String()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

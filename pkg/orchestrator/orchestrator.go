package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/orcherr"
	"github.com/cuemby/dataorchestrator/pkg/refreshworker"
	"github.com/cuemby/dataorchestrator/pkg/registry"
	"github.com/cuemby/dataorchestrator/pkg/scheduler"
	"github.com/cuemby/dataorchestrator/pkg/store"
	"github.com/cuemby/dataorchestrator/pkg/tasks"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

// storeFilename is the orchestrator's own bookkeeping database, rooted
// under the data stack's working directory, distinct from any warehouse
// a refresher writes to.
const storeFilename = "orchestrator.sqlite3"

// Orchestrator is the facade cmd/data-orchestrator and
// cmd/data-refresh-worker drive: it owns the store, registry, task
// manager, and scheduler, and exposes the operations spec.md's External
// Interfaces section names.
type Orchestrator struct {
	store    *store.Store
	registry *registry.Registry
	tasks    *tasks.Manager
	sched    *scheduler.Scheduler
	launcher *refreshworker.Launcher
	workDir  string
	logger   zerolog.Logger
}

// Options configures Open.
type Options struct {
	// WorkDir is the data stack's root directory; the store lives at
	// WorkDir/orchestrator.sqlite3 and tick logs under WorkDir/logs.
	WorkDir string
	// RefreshWorkerBinary is the path to the cmd/data-refresh-worker
	// executable the scheduler execs for each launched refresh.
	RefreshWorkerBinary string
	// TickInterval is the scheduler's background tick cadence; zero
	// defaults to 30s.
	TickInterval time.Duration
	// MaxConcurrentRefreshes caps the number of Refresh Workers a single
	// tick will launch; zero (the default) leaves it unbounded.
	MaxConcurrentRefreshes int
	// Definitions supplies the data stack's node producers (sources and
	// models). Nodes() is called once per definition.
	Definitions []types.Definition
}

// Open loads a data stack rooted at opts.WorkDir: it opens the store,
// collects every definition's nodes into the registry, backpatches
// missing upstreams into orphans, and loads persisted node state —
// mirroring DataStack.load_data_orchestrator's fixed ordering.
func Open(ctx context.Context, opts Options) (*Orchestrator, error) {
	s, err := store.Open(ctx, filepath.Join(opts.WorkDir, storeFilename))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(s)
	for _, def := range opts.Definitions {
		if err := reg.Collect(def.Nodes()); err != nil {
			s.Close()
			return nil, orcherr.Wrap(orcherr.MalformedDefinition, def.ID(), err)
		}
	}
	reg.BackpatchUpstream()
	if err := reg.LoadNodeStates(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("load node states: %w", err)
	}

	tm := tasks.NewManager(s)
	launcher := refreshworker.NewLauncher(opts.RefreshWorkerBinary, opts.WorkDir)
	sched := scheduler.New(reg, tm, launcher, opts.WorkDir, opts.TickInterval)
	sched.SetMaxConcurrentRefreshes(opts.MaxConcurrentRefreshes)

	return &Orchestrator{
		store:    s,
		registry: reg,
		tasks:    tm,
		sched:    sched,
		launcher: launcher,
		workDir:  opts.WorkDir,
		logger:   log.WithComponent("orchestrator"),
	}, nil
}

// Close releases the store's database handle.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// Store returns the underlying state store, for callers (cmd/data-refresh-worker)
// that need to build their own pkg/tasks.Manager against the same database.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Registry returns the underlying node registry, for callers that need
// direct node lookup (cmd/data-refresh-worker locating the node it was
// asked to refresh).
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Start begins the background tick loop.
func (o *Orchestrator) Start() { o.sched.Start() }

// Stop stops the background tick loop.
func (o *Orchestrator) Stop() { o.sched.Stop() }

// Tick performs one scheduling pass; see pkg/scheduler.Scheduler.Tick.
func (o *Orchestrator) Tick(ctx context.Context) (scheduler.Report, error) {
	return o.sched.Tick(ctx)
}

// SetNodeStale invalidates id and its full downstream closure in one
// transaction, for an explicit cascade (a source file edited on disk, a
// user-triggered invalidation), not the scheduler's own TTL expiry path.
func (o *Orchestrator) SetNodeStale(ctx context.Context, id string) error {
	if _, ok := o.registry.Get(id); !ok {
		return orcherr.New(orcherr.NotFound, id, "")
	}
	downstream := o.registry.DownstreamNodes(id)
	ids := make([]string, 0, len(downstream)+1)
	ids = append(ids, id)
	for _, d := range downstream {
		ids = append(ids, d.ID)
	}
	if err := o.tasks.SetNodeStale(ctx, ids); err != nil {
		return fmt.Errorf("set node stale %s: %w", id, err)
	}
	return nil
}

// RefreshNode launches a Refresh Worker for id outside the regular tick
// loop, for an explicit user-triggered refresh. force bypasses the STALE
// precondition the way the scheduler's own launches never do.
func (o *Orchestrator) RefreshNode(ctx context.Context, id string, force bool) error {
	node, ok := o.registry.Get(id)
	if !ok {
		return orcherr.New(orcherr.NotFound, id, "")
	}
	if node.State == types.NodeStateOrphan {
		return orcherr.New(orcherr.InvalidState, fmt.Sprintf("%s is an orphan and has no refresher", id), id)
	}

	logDir, err := o.newLogDir()
	if err != nil {
		return fmt.Errorf("create refresh log dir: %w", err)
	}
	if err := o.launcher.Launch(ctx, logDir, node, force); err != nil {
		return fmt.Errorf("launch refresh for node %s: %w", id, err)
	}
	return nil
}

// DeleteNode removes id's persisted bookkeeping state and task history.
// It does not remove the node from the in-memory registry; the node
// definition still exists until its owning source/model is deleted and
// the orchestrator is reopened.
func (o *Orchestrator) DeleteNode(ctx context.Context, id string) error {
	if err := o.store.DeleteNode(ctx, id); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

// LastTaskForNode returns the newest task row for id.
func (o *Orchestrator) LastTaskForNode(ctx context.Context, id string) (*types.Task, error) {
	task, err := o.tasks.LastTaskForNode(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, orcherr.New(orcherr.NotFound, id, "")
	}
	return task, err
}

// Info returns a read-only snapshot of every known node, for the
// data-nodes CLI command. Each node's state is read from its persisted
// row, so changes written by Refresh Workers or SetNodeStale show up
// without a Tick; Orphans, and nodes with no row, report their
// in-memory state.
func (o *Orchestrator) Info(ctx context.Context) ([]types.NodeInfo, error) {
	var out []types.NodeInfo
	for _, n := range o.registry.List() {
		row, err := o.store.GetNodeState(ctx, n.ID)
		currentTID := ""
		state := n.State
		if err == nil {
			currentTID = row.CurrentTID
			if n.State != types.NodeStateOrphan {
				state = row.State
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get node state %s: %w", n.ID, err)
		}
		out = append(out, types.NodeInfo{
			ID:         n.ID,
			State:      state,
			Upstream:   n.Upstream,
			StaleAfter: n.StaleAfter,
			CurrentTID: currentTID,
		})
	}
	return out, nil
}

func (o *Orchestrator) newLogDir() (string, error) {
	return o.sched.NewLogDir()
}

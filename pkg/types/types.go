package types

import (
	"context"
	"time"
)

// NodeState represents the lifecycle state of a data node.
type NodeState string

const (
	// NodeStateStale means the node's data is known to be outdated and
	// is a candidate for refresh once its upstream nodes are fresh.
	NodeStateStale NodeState = "STALE"

	// NodeStateFresh means the node's data reflects its inputs as of the
	// last successful refresh and no expiry has elapsed.
	NodeStateFresh NodeState = "FRESH"

	// NodeStateExpired is part of the state vocabulary but no transition
	// sets it: when a Fresh node's stale_after TTL elapses the scheduler
	// moves it straight to Stale. The scheduler does not launch workers
	// for an Expired node.
	NodeStateExpired NodeState = "EXPIRED"

	// NodeStateRefreshing means a refresh task is in flight and no
	// invalidation has arrived since it started.
	NodeStateRefreshing NodeState = "REFRESHING"

	// NodeStateRefreshingStale means a refresh task is in flight but the
	// node has since been marked stale again by a cascading invalidation;
	// the in-flight result, even if it succeeds, must not mark it Fresh.
	NodeStateRefreshingStale NodeState = "REFRESHING_STALE"

	// NodeStateOrphan marks a node referenced as an upstream dependency
	// by some other node's definition but never itself defined by a
	// Source or Model. Orphans have no Refresher and are never scheduled.
	NodeStateOrphan NodeState = "ORPHAN"
)

// TaskState represents the lifecycle state of a single refresh attempt.
type TaskState string

const (
	TaskStateRunning TaskState = "RUNNING"
	TaskStateDone    TaskState = "DONE"
	TaskStateErrored TaskState = "ERRORED"
	TaskStateZombie  TaskState = "ZOMBIE"
)

// Node is one vertex of the data DAG: a named piece of data, produced by
// a Refresher, depending on zero or more upstream node IDs.
type Node struct {
	ID       string
	// Container is the fully-qualified name under which the node's data
	// lives in the Warehouse (schema.table), empty for nodes that don't
	// materialize a table (pure side-effecting refreshers).
	Container string

	// Upstream lists the node IDs this node reads from. Populated by the
	// owning Definition; ids with no producer get Orphan placeholders
	// from the registry's BackpatchUpstream.
	Upstream []string

	// Details carries definition-specific metadata (e.g. SQL text,
	// source connection parameters) opaque to the registry/scheduler.
	Details map[string]any

	// StaleAfter is the freshness TTL; nil means the node never expires
	// on its own and only goes Stale via explicit invalidation.
	StaleAfter *time.Duration

	State NodeState

	// Refresher produces this node's data. Nil for Orphan nodes.
	Refresher Refresher
}

// Refresher performs the actual work of (re)producing a node's data. It
// is supplied by a Source or Model Definition and invoked by the refresh
// worker subprocess, never by the orchestrator process itself.
type Refresher interface {
	Refresh(ctx context.Context, rc RefresherContext) error
}

// RefresherContext is the narrow surface a Refresher needs: the node it
// is producing and a handle to the external data warehouse.
type RefresherContext struct {
	Node      *Node
	Warehouse Warehouse
}

// Warehouse is the external SQL collaborator that refreshers read from
// and write into. It is distinct from the orchestrator's own State Store.
type Warehouse interface {
	ExecuteSQL(ctx context.Context, stmt string) error
	CreateOrReplaceModel(ctx context.Context, schema, table, selectSQL string) error
	LoadRawRecords(ctx context.Context, schema, table string, records []map[string]any) error
}

// Definition groups the nodes contributed by a single Source or Model
// file. orchestrator.Open calls Nodes() once per definition and hands
// the result to the registry's Collect.
type Definition interface {
	// ID identifies the definition (used for logging and error context).
	ID() string
	Nodes() []*Node
}

// TaskInfo is the diagnostic payload attached to a Task.
type TaskInfo struct {
	PID        int
	StdoutPath string
	StderrPath string
	Error      string
	Traceback  string
}

// Task is a single, persisted attempt to refresh one Node.
type Task struct {
	ID     string
	NodeID string
	State  TaskState

	StartedAt time.Time
	// CompletedAt is the zero time while the task is Running.
	CompletedAt time.Time

	Info TaskInfo
}

// NodeInfo is the read-only snapshot returned by introspection calls
// (the `data-nodes` CLI command and the orchestrator's Info method).
type NodeInfo struct {
	ID         string
	State      NodeState
	Upstream   []string
	StaleAfter *time.Duration
	CurrentTID string
}

package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/store"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

// Registry holds the in-memory node DAG and its cached persisted state.
type Registry struct {
	store *store.Store
	mu    sync.RWMutex

	nodes map[string]*types.Node
	order []string // registry insertion order, used for tie-breaking in the tick loop

	logger zerolog.Logger
}

// New returns an empty Registry backed by s.
func New(s *store.Store) *Registry {
	return &Registry{
		store:  s,
		nodes:  make(map[string]*types.Node),
		logger: log.WithComponent("registry"),
	}
}

// newOrphan synthesizes a placeholder node for an id with no known
// producer. Orphans are never fresh and carry no refresher.
func newOrphan(id string) *types.Node {
	return &types.Node{ID: id, State: types.NodeStateOrphan}
}

// Collect registers nodes. A duplicate id is a hard error, matching
// spec.md's "duplicate ids are a hard error" — a DAG with two producers
// for the same id has no well-defined meaning.
func (r *Registry) Collect(nodes []*types.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range nodes {
		if _, exists := r.nodes[n.ID]; exists {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		r.nodes[n.ID] = n
		r.order = append(r.order, n.ID)
	}
	return nil
}

// BackpatchUpstream deduplicates each node's upstream list and
// synthesizes an Orphan node for any upstream id with no producer.
// Idempotent: running it again over an already-backpatched registry adds
// nothing new (edge case E2).
func (r *Registry) BackpatchUpstream() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		n := r.nodes[id]
		n.Upstream = dedup(n.Upstream)
		for _, upstreamID := range n.Upstream {
			if _, exists := r.nodes[upstreamID]; exists {
				continue
			}
			orphan := newOrphan(upstreamID)
			r.nodes[upstreamID] = orphan
			r.order = append(r.order, upstreamID)
			r.logger.Warn().Str("node_id", upstreamID).Str("referenced_by", n.ID).Msg("synthesized orphan node for missing upstream producer")
		}
	}
}

// dedup removes duplicate entries from ids while preserving order (edge
// case E3: a node listing the same upstream twice is tolerated).
func dedup(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// LoadNodeStates populates each known node's State from the persisted
// rows, inserting a STALE row for any node new to the store, and adding
// an in-memory Orphan for any persisted id the registry does not know
// about (a node definition that was removed since the last run, but
// whose task history still exists).
func (r *Registry) LoadNodeStates(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	persisted, err := r.store.ListNodeStates(ctx)
	if err != nil {
		return fmt.Errorf("load persisted node states: %w", err)
	}
	byID := make(map[string]store.NodeRow, len(persisted))
	for _, row := range persisted {
		byID[row.NID] = row
	}

	for _, id := range r.order {
		n := r.nodes[id]
		if n.State == types.NodeStateOrphan {
			continue // orphans synthesized by backpatch have no persisted row
		}
		if row, ok := byID[id]; ok {
			n.State = row.State
			continue
		}
		n.State = types.NodeStateStale
		if err := r.store.UpsertNodeState(ctx, id, types.NodeStateStale); err != nil {
			return fmt.Errorf("seed node state %s: %w", id, err)
		}
	}

	for nid := range byID {
		if _, known := r.nodes[nid]; known {
			continue
		}
		orphan := newOrphan(nid)
		r.nodes[nid] = orphan
		r.order = append(r.order, nid)
	}

	return nil
}

// LoadNodeState refreshes a single node's cached State from the store.
// Returns the Orphan sentinel state if id is unknown to the registry.
func (r *Registry) LoadNodeState(ctx context.Context, id string) (types.NodeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return types.NodeStateOrphan, nil
	}
	row, err := r.store.GetNodeState(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load node state %s: %w", id, err)
	}
	n.State = row.State
	return n.State, nil
}

// Get returns the node for id and whether it is known to the registry
// (synthesized Orphans count as known).
func (r *Registry) Get(id string) (*types.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// List returns every node in registry insertion order.
func (r *Registry) List() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// IsFresh reports whether id's cached state is FRESH. Unknown ids and
// Orphans are never fresh.
func (r *Registry) IsFresh(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	return n.State == types.NodeStateFresh
}

// DownstreamNodes computes the transitive closure of nodes whose
// upstream chain contains id — order unspecified, duplicates removed.
func (r *Registry) DownstreamNodes(id string) []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[string]struct{})
	var walk func(target string)
	var out []*types.Node

	walk = func(target string) {
		for _, candID := range r.order {
			cand := r.nodes[candID]
			if _, already := visited[cand.ID]; already {
				continue
			}
			for _, up := range cand.Upstream {
				if up == target {
					visited[cand.ID] = struct{}{}
					out = append(out, cand)
					walk(cand.ID)
					break
				}
			}
		}
	}
	walk(id)
	return out
}

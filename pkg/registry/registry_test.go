package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dataorchestrator/pkg/store"
	"github.com/cuemby/dataorchestrator/pkg/types"
)

func openTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "orchestrator.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func TestCollectRejectsDuplicates(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{{ID: "a"}}))
	err := r.Collect([]*types.Node{{ID: "a"}})
	assert.Error(t, err)
}

func TestBackpatchUpstreamSynthesizesOrphan(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{
		{ID: "b", Upstream: []string{"a"}},
	}))
	r.BackpatchUpstream()

	orphan, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, types.NodeStateOrphan, orphan.State)
}

func TestBackpatchUpstreamIsIdempotent(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{
		{ID: "b", Upstream: []string{"a"}},
	}))
	r.BackpatchUpstream()
	r.BackpatchUpstream()

	assert.Len(t, r.List(), 2, "a second backpatch must not add a second orphan")
}

func TestBackpatchUpstreamDedupsRepeatedUpstream(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{
		{ID: "a"},
		{ID: "b", Upstream: []string{"a", "a"}},
	}))
	r.BackpatchUpstream()

	b, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, b.Upstream)
}

func TestBackpatchSharesOrphanInstanceAcrossReferences(t *testing.T) {
	// E1: the same Orphan instance is reused for an id referenced in
	// multiple places.
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{
		{ID: "b", Upstream: []string{"missing"}},
		{ID: "c", Upstream: []string{"missing"}},
	}))
	r.BackpatchUpstream()

	b, _ := r.Get("b")
	c, _ := r.Get("c")
	bOrphan, _ := r.Get(b.Upstream[0])
	cOrphan, _ := r.Get(c.Upstream[0])
	assert.Same(t, bOrphan, cOrphan)
}

func TestLoadNodeStatesSeedsStale(t *testing.T) {
	r, s := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{{ID: "a"}}))
	r.BackpatchUpstream()

	require.NoError(t, r.LoadNodeStates(context.Background()))

	a, _ := r.Get("a")
	assert.Equal(t, types.NodeStateStale, a.State)

	row, err := s.GetNodeState(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStateStale, row.State)
}

func TestLoadNodeStatesAdoptsPersistedState(t *testing.T) {
	r, s := openTestRegistry(t)
	require.NoError(t, s.UpsertNodeState(context.Background(), "a", types.NodeStateFresh))
	require.NoError(t, r.Collect([]*types.Node{{ID: "a"}}))
	r.BackpatchUpstream()

	require.NoError(t, r.LoadNodeStates(context.Background()))

	a, _ := r.Get("a")
	assert.Equal(t, types.NodeStateFresh, a.State)
}

func TestLoadNodeStatesOrphansUnknownPersistedRows(t *testing.T) {
	r, s := openTestRegistry(t)
	require.NoError(t, s.UpsertNodeState(context.Background(), "ghost", types.NodeStateFresh))
	require.NoError(t, r.Collect([]*types.Node{{ID: "a"}}))
	r.BackpatchUpstream()

	require.NoError(t, r.LoadNodeStates(context.Background()))

	ghost, ok := r.Get("ghost")
	require.True(t, ok)
	assert.Equal(t, types.NodeStateOrphan, ghost.State)
}

func TestDownstreamNodesComputesTransitiveClosure(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{
		{ID: "a"},
		{ID: "b", Upstream: []string{"a"}},
		{ID: "c", Upstream: []string{"b"}},
		{ID: "d"}, // unrelated
	}))
	r.BackpatchUpstream()

	down := r.DownstreamNodes("a")
	ids := make([]string, 0, len(down))
	for _, n := range down {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestIsFreshIsFalseForOrphan(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Collect([]*types.Node{{ID: "b", Upstream: []string{"a"}}}))
	r.BackpatchUpstream()
	assert.False(t, r.IsFresh("a"))
}

package tasks

import (
	"context"
	"fmt"

	"github.com/cuemby/dataorchestrator/pkg/metrics"
)

// SetNodeStale invalidates id and everything downstream of it in one
// transaction: compute {id} ∪ downstream(id), then apply the
// FRESH→STALE / REFRESHING→REFRESHING_STALE transition table to the
// whole set. ids must already include id itself; downstream membership
// is the caller's (pkg/orchestrator's) responsibility to resolve via the
// Node Registry, since the registry owns the in-memory DAG.
func (m *Manager) SetNodeStale(ctx context.Context, ids []string) error {
	if err := m.store.CascadeStale(ctx, ids); err != nil {
		return fmt.Errorf("cascade stale for %v: %w", ids, err)
	}
	metrics.CascadesTotal.Inc()
	m.logger.Debug().Strs("node_ids", ids).Msg("cascaded invalidation")
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/dataorchestrator/pkg/types"
)

// CascadeStale applies the set_node_stale transition table to every id in
// ids, inside one transaction: FRESH -> STALE; REFRESHING ->
// REFRESHING_STALE (so the in-flight task's completion lands on STALE,
// never FRESH — invariant I4); any other state is left untouched. Unknown
// ids are skipped rather than erroring, since a downstream-closure member
// may be an Orphan with no persisted row.
func (s *Store) CascadeStale(ctx context.Context, ids []string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, nid := range ids {
			state, _, err := currentNodeStateTx(tx, nid)
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				return fmt.Errorf("cascade read %s: %w", nid, err)
			}

			var next types.NodeState
			switch state {
			case types.NodeStateFresh:
				next = types.NodeStateStale
			case types.NodeStateRefreshing:
				next = types.NodeStateRefreshingStale
			default:
				continue
			}
			if _, err := tx.Exec(`UPDATE data_nodes SET state = ? WHERE nid = ?`, string(next), nid); err != nil {
				return fmt.Errorf("cascade transition %s to %s: %w", nid, next, err)
			}
		}
		return nil
	})
}

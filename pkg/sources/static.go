package sources

import (
	"context"
	"fmt"

	"github.com/cuemby/dataorchestrator/pkg/types"
)

// StaticTable is a source that loads a fixed set of rows into the
// warehouse's raw table on every refresh. It has no upstream nodes.
type StaticTable struct {
	IDValue string
	Schema  string
	Table   string
	Rows    []map[string]any
}

// NewStaticTable builds a single-node Definition backed by an in-memory
// row set, named schema.table in the warehouse.
func NewStaticTable(id, schema, table string, rows []map[string]any) *StaticTable {
	return &StaticTable{IDValue: id, Schema: schema, Table: table, Rows: rows}
}

func (s *StaticTable) ID() string { return s.IDValue }

func (s *StaticTable) Nodes() []*types.Node {
	return []*types.Node{
		{
			ID:        s.IDValue,
			Container: fmt.Sprintf("%s.%s", s.Schema, s.Table),
			Upstream:  nil,
			State:     types.NodeStateStale,
			Refresher: s,
		},
	}
}

// Refresh appends the configured rows as a new raw batch. StaticTable data
// doesn't change between refreshes, so repeated refreshes are idempotent
// in effect even though LoadRawRecords always appends.
func (s *StaticTable) Refresh(ctx context.Context, rc types.RefresherContext) error {
	if err := rc.Warehouse.LoadRawRecords(ctx, s.Schema, s.Table, s.Rows); err != nil {
		return fmt.Errorf("load static rows for %s: %w", s.IDValue, err)
	}
	return nil
}

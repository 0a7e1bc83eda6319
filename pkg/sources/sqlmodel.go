package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/dataorchestrator/pkg/types"
)

// SQLModel is a model that (re)builds schema.table from a SELECT over its
// dependencies, the way a .sql file under a data stack's models/ directory
// would. Its node id is schema.table; its upstream is whatever node ids
// the SELECT depends on, declared explicitly since Go can't parse the SQL
// to discover them the way the original's Jinja templating did.
type SQLModel struct {
	IDValue    string
	Schema     string
	Table      string
	SelectSQL  string
	DependsOn  []string
	StaleAfter *time.Duration
}

// NewSQLModel builds a single-node Definition that materializes selectSQL
// into schema.table on refresh.
func NewSQLModel(id, schema, table, selectSQL string, dependsOn []string, staleAfter *time.Duration) *SQLModel {
	return &SQLModel{
		IDValue:    id,
		Schema:     schema,
		Table:      table,
		SelectSQL:  selectSQL,
		DependsOn:  dependsOn,
		StaleAfter: staleAfter,
	}
}

func (m *SQLModel) ID() string { return m.IDValue }

func (m *SQLModel) Nodes() []*types.Node {
	return []*types.Node{
		{
			ID:         m.IDValue,
			Container:  fmt.Sprintf("%s.%s", m.Schema, m.Table),
			Upstream:   m.DependsOn,
			StaleAfter: m.StaleAfter,
			State:      types.NodeStateStale,
			Refresher:  m,
		},
	}
}

// Refresh materializes the configured SELECT into schema.table.
func (m *SQLModel) Refresh(ctx context.Context, rc types.RefresherContext) error {
	if err := rc.Warehouse.CreateOrReplaceModel(ctx, m.Schema, m.Table, m.SelectSQL); err != nil {
		return fmt.Errorf("build model %s: %w", m.IDValue, err)
	}
	return nil
}

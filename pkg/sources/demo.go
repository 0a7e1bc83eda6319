package sources

import "github.com/cuemby/dataorchestrator/pkg/types"

// Demo returns the small, fixed node set both cmd/data-orchestrator and
// cmd/data-refresh-worker load by default: a StaticTable with no
// upstream and a SQLModel depending on it. A real deployment replaces
// this with its own Definitions; the two commands must still agree on
// whatever set is in effect, since the worker subprocess rediscovers
// nodes by id rather than inheriting them from its parent's memory.
func Demo() []types.Definition {
	return []types.Definition{
		NewStaticTable("public.customers", "public", "customers", []map[string]any{
			{"id": 1, "name": "Acme Corp"},
			{"id": 2, "name": "Globex"},
		}),
		NewSQLModel("public.customer_count", "public", "customer_count",
			"SELECT COUNT(*) AS total FROM public_customers_raw",
			[]string{"public.customers"}, nil),
	}
}

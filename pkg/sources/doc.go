// Package sources provides reference Definition/Refresher implementations:
// StaticTable, a source that loads a fixed set of rows with no upstream
// dependencies, and SQLModel, a model that builds its table from a SELECT
// over its dependencies. Real data stacks are expected to supply their own
// Definitions; these exist to exercise the orchestrator end to end and to
// give new data stacks a starting point.
package sources

// Package warehouse is a reference implementation of the external SQL
// collaborator refreshers write to (spec.md §6's Store). It is deliberately
// a separate database from the orchestrator's own bookkeeping State
// Store (pkg/store) — conflating the two would blur the distinction
// spec.md draws between orchestrator state and the data a refresh
// actually produces.
//
// SQLite has no schema/namespace concept, so table names are flattened
// as "<schema>_<table>", following the original Store's
// make_table_name. CreateOrReplaceModel builds the new table under a
// temporary name and renames it into place inside one transaction, so a
// concurrent reader never observes a half-built table.
package warehouse

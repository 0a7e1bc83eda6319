// Package orchestrator wires the store, registry, task manager, scheduler,
// and refresh-worker launcher into the single public facade cmd/data-orchestrator
// and cmd/data-refresh-worker drive. Open mirrors DataStack.load's fixed
// order: open the store, collect node definitions, backpatch orphans,
// then load persisted state — each step depends on the one before it.
package orchestrator

// Package scheduler implements the orchestrator's tick loop: on each
// invocation it sweeps zombie tasks, launches a Refresh Worker for every
// STALE node whose upstream is entirely FRESH, and cascades any node
// whose stale_after TTL has expired back to STALE.
//
// The loop itself is single-threaded and cooperative; parallelism comes
// from the Refresh Workers it launches as detached OS processes, not
// from goroutines inside the scheduler — see pkg/refreshworker.
package scheduler

/*
Package types defines the core data structures shared across the data
orchestrator: data nodes and their lifecycle state, refresh tasks, and the
external collaborator interfaces (Refresher, Warehouse, Definition) that
sources and models implement.

Node state machine:

	STALE ──► REFRESHING ──(done)──► FRESH ──(stale_after elapses or cascade)──► STALE
	  ▲            │
	  │            ├──(errored / zombie)──► STALE
	  │            └──(re-invalidated mid-flight)──► REFRESHING_STALE
	  └──────────────────(task ends)─────────────────────────┘

EXPIRED exists as a state value, but no transition sets it.

ORPHAN is a separate, terminal state: a node referenced as an upstream
dependency but never defined by any Source or Model. Orphans have no
Refresher and are never scheduled.
*/
package types

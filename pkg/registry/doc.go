// Package registry implements the Node Registry: it builds the
// in-memory node DAG from the source/model definitions the orchestrator
// loads, backpatches upstream id references (synthesizing Orphan nodes
// for any upstream with no producer), and reconciles that in-memory
// graph against the State Store's persisted bookkeeping rows.
//
// A Registry is not itself safe for the kind of concurrent mutation the
// Task Manager does to persisted state — node definitions are loaded
// once at startup and only their cached State field is refreshed
// in-place afterward — but it is safe for concurrent reads, which is
// what the scheduler and CLI info command need.
package registry

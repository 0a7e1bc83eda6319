// Package tasks implements the Task Manager: the domain facade over
// pkg/store's task primitives that generates task ids, distinguishes the
// "not stale" precondition failure from a plain store error, and sweeps
// zombie tasks whose owning process has died.
//
// Everything here is a thin wrapper — the atomicity guarantees (exactly
// one caller may observe STALE and transition it; a stale completion
// cannot clobber a newer run) live inside pkg/store's transactions, not
// in this package.
package tasks

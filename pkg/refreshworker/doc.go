// Package refreshworker implements the Refresh Worker: the detached
// subprocess that performs a single node's refresh outside the
// orchestrator's own process.
//
// Launch (called by pkg/scheduler) starts cmd/data-refresh-worker as a
// session-leader child via exec.Command with Setsid set, the Go
// equivalent of the original double-fork-and-setsid idiom — Go does not
// expose a safe raw fork() once goroutines exist, so detachment is
// achieved by starting a genuinely separate process rather than forking
// this one. Run (called from inside that subprocess's main) is the
// worker body: it creates the per-task log files, writes the pid file,
// starts the task, invokes the node's refresher, and completes or fails
// the task before exiting.
package refreshworker

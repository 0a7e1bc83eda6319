// Package orcherr implements the orchestrator's error taxonomy: the
// small set of distinguished kinds a caller (CLI or future HTTP layer)
// needs to tell apart, each carrying a JSON-serializable payload.
//
// Store-busy and refresher-failure conditions are recovered before they
// ever reach this layer — pkg/store.WithTx retries store-busy locally,
// and pkg/tasks.FailTask recovers a refresher's error into the task row.
// Only not-found, invalid-state, malformed-definition and internal
// errors are expected to surface here.
package orcherr

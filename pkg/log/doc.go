/*
Package log provides structured logging for the data orchestrator using zerolog.

It wraps a single global zerolog.Logger, initialized once via Init, with
helpers for attaching component/node/task context to child loggers.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Str("node_id", id).Msg("tick started")

Never log secrets, task environment values, or refresher output verbatim —
refresher stdout/stderr goes to the per-task log files managed by
pkg/refreshworker, not through this logger.
*/
package log

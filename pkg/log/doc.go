/*
Package log provides structured logging for otter using zerolog.

The package wraps a single process-global zerolog.Logger, initialized once
via Init, with helpers for building component-scoped child loggers
(WithComponent, WithStep, WithTask, WithWorker). Worker subprocesses tag
every line with role=W by reading ProcessRoleEnv at Init time, so a combined
log stream from the coordinator and its workers stays attributable.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("coordinator started")

	stepLog := log.WithStep("ingest")
	stepLog.Info().Str("task", "copy input").Msg("task enqueued")

Console output (the default outside of CI/production) renders
human-readable lines via zerolog.ConsoleWriter; JSONOutput switches to
newline-delimited JSON suitable for log aggregation.
*/
package log

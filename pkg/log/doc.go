/*
Package log provides structured logging for burrow using zerolog.

A single global Logger is configured once by Init. Components derive child
loggers with WithComponent and keep them as struct fields, so every line
carries a "component" field:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("coordinator")
	logger.Info().
		Int64("persistent_task_id", 7).
		Int64("allocation_id", 2).
		Msg("Starting persistent task")

Levels map one to one onto zerolog levels. ParseLevel turns configuration
strings into a Level and falls back to info for anything it does not know.

JSON output is meant for production collectors; console output (the
default when JSONOutput is false) is meant for humans at a terminal.
*/
package log

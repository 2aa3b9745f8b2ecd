// Package logging provides structured logging for the CoV demo processes.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the covdemo subcommands.
//
// # Features
//
//   - JSON or text output
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Per-component debug switches driven by the DEBUG variable
//
// # Configuration
//
//	LOG_LEVEL=info        # debug, info, warn, error
//	LOG_FORMAT=text       # json, text
//	LOG_OUTPUT=stderr     # stdout, stderr
//	DEBUG=covclient,bacnet
//
// DEBUG=all lowers every component to debug.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "covdemo", version)
//	log := logger.Component("covclient")
//	log.Debug("subscribing", "object", obj)
package logging

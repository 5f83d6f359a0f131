// Package logging provides structured logging for the pcd core daemon.
//
// This package wraps log/slog so every component logs the same way.
//
// # Features
//
//   - JSON output by default, text output on request
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	registry.SetLogger(logger.With("component", "driver"))
//	logger.Error("attach failed", "error", err)
package logging

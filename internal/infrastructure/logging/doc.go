// Package logging provides structured logging for the fleet bridge.
//
// This package wraps Go's standard log/slog package so that every component
// logs with the same handler, level and default fields.
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.With("session_id", id).Warn("subscription timed out", "topic", topic)
//
// String attributes keyed password, token, secret or authorization are
// replaced with "***" before they reach the handler.
package logging

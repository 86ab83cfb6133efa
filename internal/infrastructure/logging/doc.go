// Package logging provides structured logging for Gray Logic Node.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// On a deep-sleep node every wake episode starts a fresh process, so log
// volume per boot is small; debug level is safe to leave on while
// commissioning a device.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("episode started", "node_id", "attic-01")
//	logger.Error("join failed", "error", err)
//
// # Security
//
// Never log Wi-Fi passphrases, broker credentials, or API tokens.
// Use field redaction for sensitive data:
//
//	logger.Info("token loaded", "token_prefix", tok[:6]+"...")
package logging

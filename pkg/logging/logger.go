// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts LogLevel to zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Nop returns a disabled logger, handy for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache lookups (hit/miss/null hit, key)
//   - Lock acquire/release attempts
//   - Reservation script results
//
// Info: Normal operation events
//   - Cache rebuilds completed
//   - Seckill vouchers created, orders persisted
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Cache store errors (fallback to the durable store)
//   - Lock contention exhausted retries
//   - Rebuild tasks rejected by a saturated pool
//
// Error: Error conditions requiring attention
//   - Order persistence failures (task dropped)
//   - Compensation failures after a cancelled submission
//   - Configuration errors
//
// Context Fields:
//   - component: emitting component (cache, lock, seckill, ...)
//   - key: cache or lock key
//   - strategy: cache read strategy
//   - voucher_id / buyer_id / order_id: admission identifiers
//   - reason: drop or rejection reason
//   - duration: operation duration

// Package logging configures zerolog for the trading cache service.
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
	// LevelDebug logs per-key cache traffic and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs lifecycle and administration events and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs fail-soft store errors, retries and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `mapstructure:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `mapstructure:"pretty"`

	// Service is added to every line as "service" when set.
	Service string `mapstructure:"service"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `mapstructure:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Service: "tradecache",
		Output:  os.Stderr,
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

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger for the given component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-key cache traffic
//   - hits and misses with key and level
//   - sets with TTL and strategy
//   - pattern invalidations, mirror refills
//
// Info: lifecycle and administration
//   - component start and stop
//   - rule and alert rule changes
//   - batch warm summaries
//
// Warn: fail-soft conditions
//   - Redis errors degraded to misses
//   - write-behind batch requeued
//   - upstream retries, rate limit rejections
//
// Error: conditions requiring attention
//   - write-behind items dead-lettered
//   - critical alerts fired
//   - server failures
//
// Context Fields:
//   - component: emitting component (cache-manager, invalidation, monitoring, ...)
//   - key, data_type, level: cache coordinates
//   - rule_id, strategy: invalidation rule
//   - alert_id, severity: fired alert
//   - error_class: upstream error classification

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
)

// Logger wraps zerolog.Logger with a key/value call style.
//
// Every method takes a message followed by alternating key/value pairs,
// so packages can depend on a small interface instead of zerolog itself.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	zl zerolog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, console for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	if strings.ToLower(cfg.Format) == "console" || strings.ToLower(cfg.Format) == "text" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return newWithWriter(output, parseLevel(cfg.Level), version)
}

func newWithWriter(w io.Writer, level zerolog.Level, version string) *Logger {
	zl := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "topicbridge").
		Str("version", version).
		Logger()
	return &Logger{zl: zl}
}

// parseLevel converts a string log level to a zerolog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.zl.Debug().Fields(args).Msg(msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.zl.Info().Fields(args).Msg(msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.zl.Warn().Fields(args).Msg(msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.zl.Error().Fields(args).Msg(msg)
}

// With returns a new Logger with additional default fields.
//
// Parameters:
//   - args: Key-value pairs to add as default fields
//
// Returns:
//   - *Logger: New logger with added fields
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(args).Logger()}
}

// Zerolog exposes the underlying logger for libraries that accept one directly.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

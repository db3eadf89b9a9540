// Package logging provides structured logging for the spool controller.
//
// It wraps Go's standard log/slog package with:
//   - Destination-based filtering (scheduler, cache, sweep, validator, general)
//   - Verbosity levels (Error, Warn, Info, Debug)
//   - Construction from the controller's YAML configuration
//   - Support for both structured and printf-style logging
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bbockelm/lsfspool/config"
)

// Verbosity levels for logging
type Verbosity int

// Verbosity levels for logging.
const (
	// VerbosityError logs only error messages
	VerbosityError Verbosity = iota
	// VerbosityWarn logs warnings and errors
	VerbosityWarn
	// VerbosityInfo logs informational messages, warnings, and errors
	VerbosityInfo
	// VerbosityDebug logs all messages including debug information
	VerbosityDebug
)

// Destination represents where logs should be written
type Destination int

// Destination categories for log filtering.
const (
	DestinationGeneral   Destination = iota // General application logs
	DestinationScheduler                    // bsub/bqueues/bjobs interaction logs
	DestinationCache                        // SQLite completion-cache logs
	DestinationSweep                        // sweep engine logs
	DestinationValidator                    // validator logs
)

// Config holds logging configuration
type Config struct {
	// OutputPath is where logs are written ("stdout", "stderr", or file path)
	OutputPath string
	// MinVerbosity is the minimum verbosity level to log
	MinVerbosity Verbosity
	// EnabledDestinations specifies which destinations are enabled
	// If nil or empty, all destinations are enabled
	EnabledDestinations map[Destination]bool
}

// Logger wraps slog.Logger with destination and verbosity filtering
type Logger struct {
	config *Config
	logger *slog.Logger
}

// New creates a new Logger with the given configuration
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{
			OutputPath:   "stderr",
			MinVerbosity: VerbosityInfo,
		}
	}

	var writer io.Writer
	switch cfg.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		writer = f
	}

	var slogLevel slog.Level
	switch cfg.MinVerbosity {
	case VerbosityError:
		slogLevel = slog.LevelError
	case VerbosityWarn:
		slogLevel = slog.LevelWarn
	case VerbosityInfo:
		slogLevel = slog.LevelInfo
	case VerbosityDebug:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}

	handler := slog.NewTextHandler(writer, opts)
	logger := slog.New(handler)

	return &Logger{
		config: cfg,
		logger: logger,
	}, nil
}

// FromConfig builds a Logger from the controller's YAML configuration.
//
// It consults:
//   - cfg.LogFile: output path (stdout, stderr, or file path). Empty means stderr.
//   - verbosity: the minimum level, supplied by the caller because verbosity
//     in this controller is a CLI concern (-d) rather than a config key.
func FromConfig(cfg *config.Config, verbosity Verbosity) (*Logger, error) {
	if cfg == nil {
		return New(&Config{OutputPath: "stderr", MinVerbosity: verbosity})
	}

	outputPath := "stderr"
	if cfg.LogFile != "" {
		outputPath = cfg.LogFile
	}

	return New(&Config{
		OutputPath:   outputPath,
		MinVerbosity: verbosity,
	})
}

// shouldLog checks if a log should be written based on destination filtering
func (l *Logger) shouldLog(dest Destination) bool {
	if len(l.config.EnabledDestinations) == 0 {
		return true
	}
	return l.config.EnabledDestinations[dest]
}

// destinationString returns a string representation of the destination
func destinationString(dest Destination) string {
	switch dest {
	case DestinationGeneral:
		return "general"
	case DestinationScheduler:
		return "scheduler"
	case DestinationCache:
		return "cache"
	case DestinationSweep:
		return "sweep"
	case DestinationValidator:
		return "validator"
	default:
		return "unknown"
	}
}

// ParseVerbosity maps a repeat count to a Verbosity level: 0 or less is
// Warn, 1 is Info, and anything higher is Debug.
func ParseVerbosity(count int) Verbosity {
	switch {
	case count <= 0:
		return VerbosityWarn
	case count == 1:
		return VerbosityInfo
	default:
		return VerbosityDebug
	}
}

// Error logs an error message
func (l *Logger) Error(dest Destination, msg string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Error(msg, append([]any{"destination", destinationString(dest)}, args...)...)
}

// Warn logs a warning message
func (l *Logger) Warn(dest Destination, msg string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Warn(msg, append([]any{"destination", destinationString(dest)}, args...)...)
}

// Info logs an info message
func (l *Logger) Info(dest Destination, msg string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Info(msg, append([]any{"destination", destinationString(dest)}, args...)...)
}

// Debug logs a debug message
func (l *Logger) Debug(dest Destination, msg string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Debug(msg, append([]any{"destination", destinationString(dest)}, args...)...)
}

// Errorf logs an error message with Printf-style formatting
func (l *Logger) Errorf(dest Destination, format string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Error(formatMessage(format, args...), "destination", destinationString(dest))
}

// Warnf logs a warning message with Printf-style formatting
func (l *Logger) Warnf(dest Destination, format string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Warn(formatMessage(format, args...), "destination", destinationString(dest))
}

// Infof logs an info message with Printf-style formatting
func (l *Logger) Infof(dest Destination, format string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Info(formatMessage(format, args...), "destination", destinationString(dest))
}

// Debugf logs a debug message with Printf-style formatting
func (l *Logger) Debugf(dest Destination, format string, args ...any) {
	if !l.shouldLog(dest) {
		return
	}
	l.logger.Debug(formatMessage(format, args...), "destination", destinationString(dest))
}

// formatMessage is a helper to format Printf-style messages
func formatMessage(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

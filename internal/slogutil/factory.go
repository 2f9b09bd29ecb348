package slogutil

import (
	"io"
	"log/slog"

	"codemap/internal/config"
	"codemap/internal/paths"
)

// Subsystems with their own log file and level.
const (
	SubsystemCLI        = "cli"
	SubsystemDerivation = "derivation"
	SubsystemStorage    = "storage"
)

// LoggerFactory creates appropriately configured loggers for different subsystems.
// It respects the configuration precedence: CLI flags > subsystem config > global config.
type LoggerFactory struct {
	home     string
	config   *config.Config
	cliLevel *slog.Level
	console  slog.Handler
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory. File loggers are written
// under home; an empty home disables file output.
func NewLoggerFactory(home string, cfg *config.Config) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{
		home:    home,
		config:  cfg,
		closers: make([]io.Closer, 0),
	}
}

// SetCLILevel overrides every subsystem level, as set by -v or --quiet.
func (f *LoggerFactory) SetCLILevel(level slog.Level) {
	f.cliLevel = &level
}

// SetConsole adds a handler every subsystem logger also writes to.
func (f *LoggerFactory) SetConsole(h slog.Handler) {
	f.console = h
}

// CLILogger creates a logger for command execution.
// Writes to <home>/logs/cli.log
func (f *LoggerFactory) CLILogger() *slog.Logger {
	return f.subsystemLogger(SubsystemCLI)
}

// DerivationLogger creates a logger for the derivation job and resolver.
// Writes to <home>/logs/derivation.log
func (f *LoggerFactory) DerivationLogger() *slog.Logger {
	return f.subsystemLogger(SubsystemDerivation)
}

// StorageLogger creates a logger for the database and tree cache.
// Writes to <home>/logs/storage.log
func (f *LoggerFactory) StorageLogger() *slog.Logger {
	return f.subsystemLogger(SubsystemStorage)
}

// subsystemLogger never fails: a log file that cannot be opened degrades to
// console-only (or discarded) output.
func (f *LoggerFactory) subsystemLogger(subsystem string) *slog.Logger {
	level := f.EffectiveLevel(subsystem)

	var handlers []slog.Handler
	if f.home != "" {
		fileLogger, closer, err := NewFileLogger(paths.LogPath(f.home, subsystem), level)
		if err == nil {
			f.closers = append(f.closers, closer)
			handlers = append(handlers, fileLogger.Handler())
		}
	}
	if f.console != nil {
		handlers = append(handlers, f.console)
	}

	switch len(handlers) {
	case 0:
		return NewDiscardLogger()
	case 1:
		return slog.New(handlers[0]).With("subsystem", subsystem)
	default:
		return slog.New(NewTeeHandler(handlers...)).With("subsystem", subsystem)
	}
}

// EffectiveLevel returns the effective log level for a subsystem.
// Precedence: CLI flag > subsystem config > global config > default (info)
func (f *LoggerFactory) EffectiveLevel(subsystem string) slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}

	var subsystemLevel string
	switch subsystem {
	case SubsystemCLI:
		subsystemLevel = f.config.Logging.CLI
	case SubsystemDerivation:
		subsystemLevel = f.config.Logging.Derivation
	case SubsystemStorage:
		subsystemLevel = f.config.Logging.Storage
	}
	if subsystemLevel != "" {
		return LevelFromString(subsystemLevel)
	}

	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}

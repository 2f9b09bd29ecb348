package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"codemap/internal/config"
	"codemap/internal/derivation"
	"codemap/internal/metrics"
	"codemap/internal/paths"
	"codemap/internal/slogutil"
	"codemap/internal/storage"
	"codemap/internal/trees"
)

// app holds everything a command needs. It is built per invocation and
// closed before the command returns.
type app struct {
	home    string
	cfg     *config.Config
	loggers *slogutil.LoggerFactory
	logger  *slog.Logger

	db        *storage.DB
	configs   *storage.PathConfigRepository
	locks     *storage.LockRepository
	treeCache *storage.TreeCache

	metrics *metrics.Metrics
	trees   *trees.CachedProvider
	deriver *derivation.Deriver
}

// openApp loads configuration, sets up logging and opens the database.
func openApp() (*app, error) {
	home, err := paths.EnsureHome()
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(home)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loggers := slogutil.NewLoggerFactory(home, cfg)
	consoleLevel := slogutil.LevelFromVerbosity(verbosity, quiet)
	if verbosity > 0 || quiet {
		loggers.SetCLILevel(consoleLevel)
	}
	loggers.SetConsole(consoleHandler(cfg, consoleLevel))

	a := &app{
		home:    home,
		cfg:     cfg,
		loggers: loggers,
		logger:  loggers.CLILogger(),
		metrics: metrics.New(cfg.Metrics.Namespace),
	}

	db, err := storage.Open(paths.DatabasePath(home), loggers.StorageLogger())
	if err != nil {
		_ = loggers.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.configs = storage.NewPathConfigRepository(db)
	a.locks = storage.NewLockRepository(db)
	a.treeCache = storage.NewTreeCache(db)

	derivationLogger := loggers.DerivationLogger()
	manifestDir := cfg.Trees.ManifestDir
	if manifestDir == "" {
		manifestDir = paths.ManifestDir(home)
	}
	manifests := trees.NewManifestProvider(manifestDir, trees.ManifestOptions{
		GitTimeout:    time.Duration(cfg.Trees.GitTimeoutMs) * time.Millisecond,
		MaxConcurrent: cfg.Trees.MaxConcurrentRepos,
		Logger:        derivationLogger,
	})
	a.trees = trees.NewCachedProvider(manifests, a.treeCache, a.locks, trees.CacheOptions{
		TTL:     time.Duration(cfg.Trees.CacheTTLSeconds) * time.Second,
		LockTTL: time.Duration(cfg.Trees.FetchLockSeconds) * time.Second,
		Logger:  derivationLogger,
	})

	a.deriver = derivation.New(derivation.Options{
		Config:  cfg,
		Trees:   a.trees,
		Configs: a.configs,
		Locks:   a.locks,
		Metrics: a.metrics,
		Logger:  derivationLogger,
	})

	a.logger.Debug("Opened codemap home", "home", home, "manifests", manifestDir)
	return a, nil
}

func loadConfig(home string) (*config.Config, error) {
	if configFile != "" {
		cfg, err := config.LoadConfigFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configFile, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadConfig(home)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func consoleHandler(cfg *config.Config, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slogutil.NewLineHandler(os.Stderr, opts)
}

// Close flushes the metrics textfile, then closes the database and log files.
func (a *app) Close() error {
	var firstErr error
	if a.cfg.Metrics.Textfile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.logger.Warn("Failed to write metrics", "error", err.Error())
			firstErr = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.loggers.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// newContext creates a new context for command execution.
func newContext() context.Context {
	return context.Background()
}

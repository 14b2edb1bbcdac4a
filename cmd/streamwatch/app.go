package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-streamwatch/internal/cache"
	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/config"
	"github.com/miradorstack/mirador-streamwatch/internal/repo"
	"github.com/miradorstack/mirador-streamwatch/internal/utils"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "streamwatch",
		Short:         "Metric evaluation and correlation engine for Kafka, Flink and ClickHouse",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				_ = a.closer.Close()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to configuration file (default $STREAMWATCH_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(a),
		newGenerateCmd(a),
		newClassifyCmd(a),
		newCatalogCmd(a),
		newTrendCmd(a),
		newPatternsCmd(a),
		newAnomaliesCmd(a),
	)
	return root
}

// load reads configuration once and builds the logger.
func (a *app) load() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if cfg.Logging.File != "" {
		a.logger, a.closer = utils.NewFileLogger(cfg.Logging.Level, cfg.Logging.JSON, utils.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
	} else {
		a.logger = utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	}
	slog.SetDefault(a.logger)
	a.cfg = cfg
	return cfg, nil
}

func (a *app) catalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.LoadOverrides(catalog.Default(), cfg.Catalog.OverridesPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog overrides: %w", err)
	}
	return cat, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config) (*repo.SQLStore, error) {
	store, err := repo.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, utils.WrapSubject("open store", cfg.Store.Driver, "connect", err)
	}
	return store, nil
}

// cacheProvider returns a Redis-backed provider when enabled, falling back to a no-op cache.
func (a *app) cacheProvider(cfg *config.Config) cache.Provider {
	if !cfg.Cache.Enabled || cfg.Cache.Addr == "" {
		return cache.NoopProvider{}
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         cfg.Cache.Addr,
		Username:     cfg.Cache.Username,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		MaxRetries:   cfg.Cache.MaxRetries,
		TLS:          cfg.Cache.TLS,
	})
	if err != nil {
		a.logger.Warn("redis cache unavailable", slog.Any("error", err))
		return cache.NoopProvider{}
	}
	return provider
}

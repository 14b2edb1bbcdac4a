package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-streamwatch/internal/api"
	"github.com/miradorstack/mirador-streamwatch/internal/config"
	"github.com/miradorstack/mirador-streamwatch/internal/engine"
	"github.com/miradorstack/mirador-streamwatch/internal/metrics"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/monitor"
	"github.com/miradorstack/mirador-streamwatch/internal/patterns"
	"github.com/miradorstack/mirador-streamwatch/internal/repo"
	"github.com/miradorstack/mirador-streamwatch/internal/services"
	"github.com/miradorstack/mirador-streamwatch/internal/synth"
	"github.com/miradorstack/mirador-streamwatch/internal/trend"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring loop with gRPC health and HTTP ops endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := a.load()
	if err != nil {
		return err
	}
	logger := a.logger
	logger.Info("starting streamwatch",
		slog.String("address", cfg.Server.Address),
		slog.String("source", cfg.Monitor.Source),
		slog.String("store", cfg.Store.Driver),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	cat, err := a.catalog(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cacheProvider := a.cacheProvider(cfg)
	defer cacheProvider.Close()

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		return err
	}
	if ruleEngine == nil {
		logger.Warn("no recommendation rules loaded", slog.String("path", cfg.Rules.Path))
	}

	classifier := engine.NewClassifier(logger, cat)
	pipeline := engine.NewPipeline(logger, classifier, store, engine.PipelineOptions{
		RetryInitial:    cfg.Monitor.RetryInitial,
		RetryMaxElapsed: cfg.Monitor.RetryMaxElapsed,
	})
	detector := patterns.NewDetector(logger, store).WithAnnotator(ruleEngine)
	analyzer := trend.NewAnalyzer(logger, store, cacheProvider, cfg.Cache.TrendTTL)

	clk := clock.New()
	var source monitor.Source
	switch cfg.Monitor.Source {
	case config.SourcePrometheus:
		source = repo.NewPrometheusFeed(logger, cfg.Prometheus.Address, cfg.Prometheus.Timeout, cat, clk)
	default:
		source = synth.New(synthConfig(cfg), cat, classifier, clk)
	}

	service := services.NewMonitorService(logger, classifier, services.Options{
		Generator: synth.New(synthConfig(cfg), cat, classifier, clk),
		Rules:     ruleEngine,
		Trends:    analyzer,
		Store:     store,
	})

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		return err
	}

	loop := monitor.NewLoop(logger, monitor.Config{
		Interval:        cfg.Monitor.Interval,
		ResolveEvery:    cfg.Monitor.ResolveEvery,
		PatternEvery:    cfg.Monitor.PatternEvery,
		PatternWindow:   cfg.Monitor.PatternWindow,
		PatternLookback: cfg.Monitor.PatternLookback,
		WarningTTL:      cfg.Monitor.WarningTTL,
		CriticalTTL:     cfg.Monitor.CriticalTTL,
	}, monitor.Dependencies{
		Source:    source,
		Processor: pipeline,
		Resolver:  store,
		Events:    store,
		Detector:  detector,
		Health:    server,
	}, clk)

	g, gctx := errgroup.WithContext(ctx)

	var opsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		opsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      api.NewOpsRouter(logger, prometheus.DefaultGatherer, store),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			logger.Info("ops server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		return server.Start()
	})

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
		if opsServer != nil {
			if err := opsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("ops server shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("streamwatch stopped", slog.Duration("store_query_p95", service.LatencyP95()))
	return err
}

func synthConfig(cfg *config.Config) synth.Config {
	return synth.Config{
		AnomalyProbability:  cfg.Synthetic.AnomalyProbability,
		Scenario:            models.ScenarioType(cfg.Synthetic.Scenario),
		MetricsPerComponent: cfg.Synthetic.MetricsPerComponent,
		Environment:         cfg.Synthetic.Environment,
		Cluster:             cfg.Synthetic.Cluster,
		ValueSeed:           cfg.Synthetic.ValueSeed,
		ScenarioSeed:        cfg.Synthetic.ScenarioSeed,
	}
}

package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-streamwatch/internal/engine"
	"github.com/miradorstack/mirador-streamwatch/internal/metrics"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/patterns"
	"github.com/miradorstack/mirador-streamwatch/internal/utils"
)

// Source yields one batch per polling interval.
type Source interface {
	NextBatch(ctx context.Context) (models.MetricBatch, error)
}

// Processor classifies and persists a batch.
type Processor interface {
	Process(ctx context.Context, batch models.MetricBatch) (engine.ProcessResult, error)
}

// Resolver closes anomaly events that outlived their severity TTL.
type Resolver interface {
	ResolveExpired(ctx context.Context, now time.Time, warningTTL, criticalTTL time.Duration) (int64, error)
}

// EventReader reads persisted anomaly events.
type EventReader interface {
	Events(ctx context.Context, q models.EventQuery) ([]models.AnomalyEvent, error)
}

// PatternDetector finds cross-component patterns in a set of events.
type PatternDetector interface {
	Detect(ctx context.Context, events []models.AnomalyEvent, window time.Duration) []models.Pattern
}

// HealthReporter publishes per-component serving status.
type HealthReporter interface {
	SetComponentStatus(component models.Component, serving bool)
}

// Config controls loop cadence and the resolution policy.
type Config struct {
	Interval        time.Duration
	ResolveEvery    int
	PatternEvery    int
	PatternWindow   time.Duration
	PatternLookback time.Duration
	WarningTTL      time.Duration
	CriticalTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.ResolveEvery <= 0 {
		c.ResolveEvery = 6
	}
	if c.PatternEvery <= 0 {
		c.PatternEvery = 6
	}
	if c.PatternWindow <= 0 {
		c.PatternWindow = 5 * time.Minute
	}
	if c.PatternLookback <= 0 {
		c.PatternLookback = 15 * time.Minute
	}
	if c.WarningTTL <= 0 {
		c.WarningTTL = 5 * time.Minute
	}
	if c.CriticalTTL <= 0 {
		c.CriticalTTL = 10 * time.Minute
	}
	return c
}

// Dependencies groups the loop collaborators. Only Source and Processor are required.
type Dependencies struct {
	Source    Source
	Processor Processor
	Resolver  Resolver
	Events    EventReader
	Detector  PatternDetector
	Health    HealthReporter
}

// Iteration reports what one tick did.
type Iteration struct {
	Number      int
	Batch       models.MetricBatch
	Result      engine.ProcessResult
	Resolved    int64
	Patterns    []models.Pattern
	// NewPatterns counts patterns seen for the first time or whose type changed.
	NewPatterns int
	Err         error
}

// Loop polls the source on a fixed interval and drives the engine.
type Loop struct {
	cfg    Config
	deps   Dependencies
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	iteration int
	cancel    context.CancelFunc
	done      chan struct{}

	// seen maps pattern IDs reported inside the lookback to their last type.
	seen map[string]seenPattern
}

type seenPattern struct {
	kind  string
	start time.Time
}

// NewLoop constructs a Loop. A nil clock uses wall time.
func NewLoop(logger *slog.Logger, cfg Config, deps Dependencies, clk clock.Clock) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		clock:  clk,
		logger: logger,
		seen:   make(map[string]seenPattern),
	}
}

// Run blocks, ticking until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.Ticker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Info("monitor loop started", slog.Duration("interval", l.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("monitor loop stopped")
			return nil
		case <-ticker.C:
			it := l.RunOnce(ctx)
			if it.Err != nil {
				l.logger.Warn("monitor iteration failed",
					slog.Int("iteration", it.Number),
					slog.String("op", utils.OpOf(it.Err)),
					slog.String("subject", utils.SubjectOf(it.Err)),
					slog.Any("error", it.Err),
				)
			}
		}
	}
}

// Start runs the loop in the background until Stop is called or ctx ends.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = l.Run(runCtx)
	}(l.done)
}

// Stop cancels a loop started with Start and waits for it to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce performs a single iteration. Failures are reported, never fatal.
func (l *Loop) RunOnce(ctx context.Context) Iteration {
	l.mu.Lock()
	l.iteration++
	it := Iteration{Number: l.iteration}
	l.mu.Unlock()

	batch, err := l.deps.Source.NextBatch(ctx)
	if err != nil {
		metrics.ObserveBatch("", 0, metrics.OutcomeError)
		it.Err = err
		return it
	}
	it.Batch = batch

	result, err := l.deps.Processor.Process(ctx, batch)
	it.Result = result
	if err != nil {
		it.Err = err
	}
	l.publishHealth(batch, result)

	now := l.clock.Now().UTC()
	if l.deps.Resolver != nil && it.Number%l.cfg.ResolveEvery == 0 {
		resolved, err := l.deps.Resolver.ResolveExpired(ctx, now, l.cfg.WarningTTL, l.cfg.CriticalTTL)
		if err != nil {
			l.logger.Warn("event resolution failed", slog.Any("error", err))
		} else {
			it.Resolved = resolved
			metrics.ObserveResolved(resolved)
			if resolved > 0 {
				l.logger.Info("anomaly events resolved", slog.Int64("count", resolved))
			}
		}
	}

	if l.deps.Events != nil && l.deps.Detector != nil && it.Number%l.cfg.PatternEvery == 0 {
		it.Patterns, it.NewPatterns = l.detectPatterns(ctx, now)
	}
	return it
}

// detectPatterns rescans every event in the lookback, resolved or not, so a
// window keeps the anomalies it had when first reported. Windows that start
// before the lookback are dropped because the scan only sees part of them.
func (l *Loop) detectPatterns(ctx context.Context, now time.Time) ([]models.Pattern, int) {
	since := now.Add(-l.cfg.PatternLookback)
	events, err := l.deps.Events.Events(ctx, models.EventQuery{
		Start: since,
		End:   now,
		Limit: 10000,
	})
	if err != nil {
		l.logger.Warn("pattern event read failed", slog.Any("error", err))
		return nil, 0
	}

	covered := make([]models.AnomalyEvent, 0, len(events))
	for _, ev := range events {
		if !patterns.WindowStart(ev.Timestamp, l.cfg.PatternWindow).Before(since) {
			covered = append(covered, ev)
		}
	}
	found := l.deps.Detector.Detect(ctx, covered, l.cfg.PatternWindow)

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, p := range l.seen {
		if p.start.Before(since) {
			delete(l.seen, id)
		}
	}

	fresh := 0
	for _, p := range found {
		if prev, ok := l.seen[p.ID]; ok && prev.kind == p.Type {
			continue
		}
		l.seen[p.ID] = seenPattern{kind: p.Type, start: p.WindowStart}
		fresh++
		metrics.ObservePattern(p.Type)
		l.logger.Info("pattern detected",
			slog.String("pattern_id", p.ID),
			slog.String("type", p.Type),
			slog.Int("anomalies", p.AnomalyCount),
			slog.String("max_severity", string(p.MaxSeverity)),
			slog.Any("signatures", p.Signatures),
			slog.Any("recommendations", p.Recommendations),
		)
	}
	return found, fresh
}

// publishHealth marks components NOT_SERVING while they hold a critical anomaly.
func (l *Loop) publishHealth(batch models.MetricBatch, result engine.ProcessResult) {
	for _, component := range models.Components() {
		if _, observed := batch.Values[component]; !observed {
			continue
		}
		critical := result.Critical[component]
		metrics.SetComponentCritical(string(component), critical)
		if l.deps.Health != nil {
			l.deps.Health.SetComponentStatus(component, !critical)
		}
	}
}

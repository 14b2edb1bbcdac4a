package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-streamwatch/internal/engine"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/patterns"
	"github.com/miradorstack/mirador-streamwatch/internal/trend"
	"github.com/miradorstack/mirador-streamwatch/internal/utils"
)

// ErrNotConfigured is wrapped when a call needs a collaborator that was not supplied.
var ErrNotConfigured = errors.New("not configured")

// EventStore defines the read side of anomaly persistence.
type EventStore interface {
	Events(ctx context.Context, q models.EventQuery) ([]models.AnomalyEvent, error)
	RecentPatterns(ctx context.Context, since time.Time, limit int) ([]models.Pattern, error)
	Summary(ctx context.Context, since time.Time, top int) (models.AnomalySummary, error)
}

// TrendReader answers store-backed trend queries.
type TrendReader interface {
	Trend(ctx context.Context, component models.Component, metric string, hours int) (models.TrendResult, error)
}

// BatchGenerator produces synthetic batches.
type BatchGenerator interface {
	GenerateBatch() models.MetricBatch
}

// Options wires optional collaborators into the service.
type Options struct {
	Generator BatchGenerator
	Rules     *engine.RuleEngine
	Trends    TrendReader
	Store     EventStore
}

// MonitorService is the facade other processes and the CLI use to reach the engine.
type MonitorService struct {
	logger     *slog.Logger
	classifier *engine.Classifier
	generator  BatchGenerator
	genMu      sync.Mutex
	rules      *engine.RuleEngine
	trends     TrendReader
	store      EventStore
	latencies  *utils.LatencyTracker
	now        func() time.Time
}

// NewMonitorService constructs the service facade.
func NewMonitorService(logger *slog.Logger, classifier *engine.Classifier, opts Options) *MonitorService {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = engine.NewClassifier(logger, nil)
	}
	return &MonitorService{
		logger:     logger,
		classifier: classifier,
		generator:  opts.Generator,
		rules:      opts.Rules,
		trends:     opts.Trends,
		store:      opts.Store,
		latencies:  utils.NewLatencyTracker(1024),
		now:        time.Now,
	}
}

// Classify evaluates one value. A non-positive duration uses the default persistence.
func (s *MonitorService) Classify(component models.Component, metric string, value, durationMinutes float64) models.ClassificationResult {
	if durationMinutes <= 0 {
		durationMinutes = engine.DefaultDurationMinutes
	}
	return s.classifier.Classify(component, metric, value, durationMinutes)
}

// GenerateBatch returns the next synthetic batch.
func (s *MonitorService) GenerateBatch() (models.MetricBatch, error) {
	if s.generator == nil {
		return models.MetricBatch{}, utils.Wrap("MonitorService.GenerateBatch", "generator", ErrNotConfigured)
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generator.GenerateBatch(), nil
}

// DetectPatterns finds patterns in the supplied events and attaches recommendations.
func (s *MonitorService) DetectPatterns(events []models.AnomalyEvent, window time.Duration) []models.Pattern {
	return s.rules.Annotate(patterns.DetectPatterns(events, window))
}

// TrendSeries analyses an in-memory series of minute buckets, most recent first.
func (s *MonitorService) TrendSeries(component models.Component, metric string, series []models.AggregateBucket) models.TrendResult {
	return trend.Analyze(component, metric, series)
}

// Trend analyses the stored series for the last hours.
func (s *MonitorService) Trend(ctx context.Context, component models.Component, metric string, hours int) (models.TrendResult, error) {
	if s.trends == nil {
		return models.TrendResult{}, utils.Wrap("MonitorService.Trend", "trend reader", ErrNotConfigured)
	}
	defer s.observe(time.Now())
	result, err := s.trends.Trend(ctx, component, metric, hours)
	if err != nil {
		return models.TrendResult{}, utils.WrapSubject("MonitorService.Trend", string(component)+"/"+metric, "analyse trend", err)
	}
	return result, nil
}

// RecentEvents lists events newer than lookback, optionally for one component.
func (s *MonitorService) RecentEvents(ctx context.Context, lookback time.Duration, component models.Component, limit int) ([]models.AnomalyEvent, error) {
	if s.store == nil {
		return nil, utils.Wrap("MonitorService.RecentEvents", "store", ErrNotConfigured)
	}
	defer s.observe(time.Now())
	now := s.now().UTC()
	events, err := s.store.Events(ctx, models.EventQuery{Start: now.Add(-lookback), End: now, Component: component, Limit: limit})
	if err != nil {
		return nil, utils.Wrap("MonitorService.RecentEvents", "read events", err)
	}
	return events, nil
}

// RecentPatterns lists stored patterns whose window began within lookback.
func (s *MonitorService) RecentPatterns(ctx context.Context, lookback time.Duration, limit int) ([]models.Pattern, error) {
	if s.store == nil {
		return nil, utils.Wrap("MonitorService.RecentPatterns", "store", ErrNotConfigured)
	}
	defer s.observe(time.Now())
	found, err := s.store.RecentPatterns(ctx, s.now().UTC().Add(-lookback), limit)
	if err != nil {
		return nil, utils.Wrap("MonitorService.RecentPatterns", "read patterns", err)
	}
	return found, nil
}

// Summary aggregates anomaly events over lookback.
func (s *MonitorService) Summary(ctx context.Context, lookback time.Duration) (models.AnomalySummary, error) {
	if s.store == nil {
		return models.AnomalySummary{}, utils.Wrap("MonitorService.Summary", "store", ErrNotConfigured)
	}
	defer s.observe(time.Now())
	summary, err := s.store.Summary(ctx, s.now().UTC().Add(-lookback), 10)
	if err != nil {
		return models.AnomalySummary{}, utils.Wrap("MonitorService.Summary", "summarise events", err)
	}
	return summary, nil
}

// CriticalAnomalies lists unresolved critical events within lookback.
func (s *MonitorService) CriticalAnomalies(ctx context.Context, lookback time.Duration) ([]models.AnomalyEvent, error) {
	if s.store == nil {
		return nil, utils.Wrap("MonitorService.CriticalAnomalies", "store", ErrNotConfigured)
	}
	defer s.observe(time.Now())
	now := s.now().UTC()
	events, err := s.store.Events(ctx, models.EventQuery{
		Start:          now.Add(-lookback),
		End:            now,
		Severity:       models.SeverityCritical,
		UnresolvedOnly: true,
	})
	if err != nil {
		return nil, utils.Wrap("MonitorService.CriticalAnomalies", "read events", err)
	}
	return events, nil
}

func (s *MonitorService) observe(start time.Time) {
	s.latencies.Observe(time.Since(start))
	if total := s.latencies.Total(); total%100 == 0 {
		snap := s.latencies.Snapshot()
		s.logger.Debug("store query latency",
			slog.Duration("p50", snap.P50),
			slog.Duration("p95", snap.P95),
			slog.Duration("max", snap.Max),
			slog.Int("samples", snap.Count),
		)
	}
}

// LatencyP95 returns the current p95 store query latency.
func (s *MonitorService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

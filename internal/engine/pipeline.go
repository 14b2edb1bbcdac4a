package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/miradorstack/mirador-streamwatch/internal/metrics"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/utils"
)

// BatchWriter persists one interval's samples and anomaly events.
type BatchWriter interface {
	WriteBatch(ctx context.Context, samples []models.MetricSample, events []models.AnomalyEvent) error
}

// PipelineOptions tunes store retries.
type PipelineOptions struct {
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

// ProcessResult summarises one processed batch.
type ProcessResult struct {
	BatchID  string
	Samples  int
	Unknown  int
	Events   []models.AnomalyEvent
	Critical map[models.Component]bool
}

// Pipeline classifies batches and writes them to the store.
type Pipeline struct {
	logger     *slog.Logger
	classifier *Classifier
	writer     BatchWriter
	tracker    *durationTracker
	opts       PipelineOptions
	newID      func() string
}

// NewPipeline constructs an ingestion pipeline. A nil writer skips persistence.
func NewPipeline(logger *slog.Logger, classifier *Classifier, writer BatchWriter, opts PipelineOptions) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifier(logger, nil)
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 200 * time.Millisecond
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = 5 * time.Second
	}
	return &Pipeline{
		logger:     logger,
		classifier: classifier,
		writer:     writer,
		tracker:    newDurationTracker(),
		opts:       opts,
		newID:      uuid.NewString,
	}
}

// Process classifies every sample in the batch and persists the results.
// The result is populated even when the write ultimately fails.
func (p *Pipeline) Process(ctx context.Context, batch models.MetricBatch) (ProcessResult, error) {
	start := time.Now()
	result := ProcessResult{BatchID: batch.ID, Critical: make(map[models.Component]bool)}

	samples := batch.Samples(p.unitOf)
	perComponent := make(map[models.Component]int)
	for _, sample := range samples {
		perComponent[sample.Component]++
		duration := p.trackDuration(sample)
		verdict := p.classifier.Classify(sample.Component, sample.Metric, sample.Value, duration)
		if !verdict.Known {
			result.Unknown++
			continue
		}
		if !verdict.IsAnomaly {
			continue
		}
		result.Events = append(result.Events, models.AnomalyEvent{
			ID:        p.newID(),
			Timestamp: sample.Timestamp,
			Component: sample.Component,
			Metric:    sample.Metric,
			Value:     sample.Value,
			Severity:  verdict.Severity,
			Reason:    verdict.Reason,
			BatchID:   batch.ID,
		})
		if verdict.Severity == models.SeverityCritical {
			result.Critical[sample.Component] = true
		}
	}
	result.Samples = len(samples)

	for component, n := range perComponent {
		metrics.ObserveSamples(string(component), n)
	}
	for _, ev := range result.Events {
		metrics.ObserveAnomaly(string(ev.Component), string(ev.Severity))
	}

	if err := p.write(ctx, samples, result.Events); err != nil {
		metrics.ObserveBatch(batch.Source, time.Since(start), metrics.OutcomeError)
		p.logger.Error("batch write failed",
			slog.String("batch_id", batch.ID),
			slog.Int("samples", len(samples)),
			slog.Int("events", len(result.Events)),
			slog.Any("error", err),
		)
		return result, utils.WrapSubject("pipeline.Process", batch.ID, "persist batch", err)
	}

	metrics.ObserveBatch(batch.Source, time.Since(start), metrics.OutcomeSuccess)
	p.logger.Debug("batch processed",
		slog.String("batch_id", batch.ID),
		slog.Int("samples", len(samples)),
		slog.Int("events", len(result.Events)),
	)
	return result, nil
}

func (p *Pipeline) write(ctx context.Context, samples []models.MetricSample, events []models.AnomalyEvent) error {
	if p.writer == nil {
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.opts.RetryInitial
	policy.MaxElapsedTime = p.opts.RetryMaxElapsed

	op := func() error {
		err := p.writer.WriteBatch(ctx, samples, events)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.ObserveStoreRetry()
		p.logger.Warn("batch write retry", slog.Duration("wait", wait), slog.Any("error", err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

func (p *Pipeline) unitOf(component models.Component, metric string) string {
	def, ok := p.classifier.defs.Lookup(component, metric)
	if !ok {
		return ""
	}
	return def.Unit
}

// trackDuration returns how long the metric has been continuously outside its normal range.
func (p *Pipeline) trackDuration(sample models.MetricSample) float64 {
	def, ok := p.classifier.defs.Lookup(sample.Component, sample.Metric)
	if !ok {
		return 0
	}
	return p.tracker.observe(sample.Component, sample.Metric, sample.Timestamp, !def.NormalRange.Contains(sample.Value))
}

type trackerKey struct {
	component models.Component
	metric    string
}

type durationTracker struct {
	mu    sync.Mutex
	since map[trackerKey]time.Time
}

func newDurationTracker() *durationTracker {
	return &durationTracker{since: make(map[trackerKey]time.Time)}
}

func (t *durationTracker) observe(component models.Component, metric string, at time.Time, outside bool) float64 {
	key := trackerKey{component: component, metric: metric}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !outside {
		delete(t.since, key)
		return 0
	}
	first, ok := t.since[key]
	if !ok {
		t.since[key] = at
		return 0
	}
	return utils.DurationMinutes(first, at)
}

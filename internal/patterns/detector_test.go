package patterns

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

type fakePatternStore struct {
	stored int
	err    error
}

func (f *fakePatternStore) StorePatterns(ctx context.Context, patterns []models.Pattern) error {
	if f.err != nil {
		return f.err
	}
	f.stored += len(patterns)
	return nil
}

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func event(offset time.Duration, component models.Component, metric string, severity models.Severity) models.AnomalyEvent {
	return models.AnomalyEvent{
		Timestamp: base.Add(offset),
		Component: component,
		Metric:    metric,
		Value:     1,
		Severity:  severity,
	}
}

func TestDetectPatternsCascadeThenPipeline(t *testing.T) {
	events := []models.AnomalyEvent{
		event(30*time.Second, models.ComponentBroker, "kafka_consumer_lag", models.SeverityCritical),
		event(time.Minute, models.ComponentStreamProcessor, "flink_task_backpressure", models.SeverityWarning),
		event(2*time.Minute, models.ComponentColumnarStore, "clickhouse_insert_latency", models.SeverityWarning),
	}

	patterns := DetectPatterns(events, 5*time.Minute)
	if len(patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.Type != models.PatternCascadeFailure {
		t.Fatalf("expected cascade failure, got %q", p.Type)
	}
	if !p.WindowStart.Equal(base) || p.AnomalyCount != 3 || len(p.Components) != 3 {
		t.Fatalf("unexpected pattern: %+v", p)
	}
	if p.MaxSeverity != models.SeverityCritical {
		t.Fatalf("expected critical max severity, got %s", p.MaxSeverity)
	}
	if !contains(p.Signatures, "pipeline_blockage") {
		t.Fatalf("expected pipeline_blockage signature, got %v", p.Signatures)
	}

	withoutStore := DetectPatterns(events[:2], 5*time.Minute)
	if len(withoutStore) != 1 || withoutStore[0].Type != models.PatternPipelineIssue {
		t.Fatalf("expected pipeline issue after removing clickhouse event, got %+v", withoutStore)
	}
}

func TestDetectPatternsIgnoresSingleComponentBuckets(t *testing.T) {
	events := make([]models.AnomalyEvent, 0, 20)
	for i := 0; i < 20; i++ {
		events = append(events, event(time.Duration(i)*10*time.Second, models.ComponentColumnarStore, "clickhouse_disk_usage", models.SeverityCritical))
	}
	if patterns := DetectPatterns(events, 5*time.Minute); len(patterns) != 0 {
		t.Fatalf("expected no patterns for single component, got %+v", patterns)
	}
}

func TestDetectPatternsResourceExhaustionAndGeneric(t *testing.T) {
	var events []models.AnomalyEvent
	for i := 0; i < 6; i++ {
		events = append(events, event(time.Duration(i)*time.Second, models.ComponentStreamProcessor, "flink_taskmanager_heap_used", models.SeverityWarning))
		events = append(events, event(time.Duration(i)*time.Second, models.ComponentColumnarStore, "clickhouse_memory_usage", models.SeverityWarning))
	}
	patterns := DetectPatterns(events, 5*time.Minute)
	if len(patterns) != 1 || patterns[0].Type != models.PatternResourceExhaustion {
		t.Fatalf("expected resource exhaustion, got %+v", patterns)
	}

	generic := DetectPatterns(events[:4], 5*time.Minute)
	if len(generic) != 1 || generic[0].Type != models.PatternCorrelatedAnomaly {
		t.Fatalf("expected correlated anomaly, got %+v", generic)
	}
}

func TestDetectPatternsWindowsAreDisjointAndOrdered(t *testing.T) {
	events := []models.AnomalyEvent{
		event(time.Minute, models.ComponentBroker, "kafka_consumer_lag", models.SeverityWarning),
		event(2*time.Minute, models.ComponentColumnarStore, "clickhouse_replication_lag", models.SeverityWarning),
		// Next window only touches the broker plus the processor.
		event(6*time.Minute, models.ComponentBroker, "kafka_consumer_lag", models.SeverityWarning),
		event(7*time.Minute, models.ComponentStreamProcessor, "flink_task_records_lag", models.SeverityWarning),
		// Straddles the boundary: kafka at 9m and clickhouse at 10m land in different windows.
		event(9*time.Minute, models.ComponentBroker, "kafka_consumer_lag", models.SeverityWarning),
		event(10*time.Minute, models.ComponentColumnarStore, "clickhouse_replication_lag", models.SeverityWarning),
	}
	patterns := DetectPatterns(events, 5*time.Minute)
	if len(patterns) != 2 {
		t.Fatalf("expected two patterns, got %d: %+v", len(patterns), patterns)
	}
	if !patterns[0].WindowStart.Equal(base.Add(5*time.Minute)) || patterns[0].AnomalyCount != 3 {
		t.Fatalf("unexpected newest pattern: %+v", patterns[0])
	}
	if patterns[0].Type != models.PatternPipelineIssue {
		t.Fatalf("expected pipeline issue for second window, got %q", patterns[0].Type)
	}
	if !patterns[1].WindowStart.Equal(base) || patterns[1].Type != models.PatternCorrelatedAnomaly {
		t.Fatalf("unexpected oldest pattern: %+v", patterns[1])
	}
}

func TestDetectPatternsDefaultWindowAndBuckets(t *testing.T) {
	events := []models.AnomalyEvent{
		event(0, models.ComponentBroker, "kafka_partition_isr_shrink_rate", models.SeverityWarning),
		event(0, models.ComponentBroker, "kafka_partition_isr_shrink_rate", models.SeverityWarning),
		event(time.Minute, models.ComponentStreamProcessor, "flink_jobmanager_checkpoint_duration", models.SeverityWarning),
		event(time.Minute, models.ComponentColumnarStore, "clickhouse_replication_lag", models.SeverityWarning),
	}
	patterns := DetectPatterns(events, 0)
	if len(patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.WindowWidth != DefaultWindow {
		t.Fatalf("expected default window, got %v", p.WindowWidth)
	}
	if len(p.Buckets) != 3 || p.Buckets[0].Component != models.ComponentColumnarStore {
		t.Fatalf("expected sorted buckets, got %+v", p.Buckets)
	}
	for _, b := range p.Buckets {
		if b.Component == models.ComponentBroker && (b.AnomalyCount != 2 || len(b.Metrics) != 1) {
			t.Fatalf("unexpected broker bucket: %+v", b)
		}
	}
	if !contains(p.Signatures, "network_partition") {
		t.Fatalf("expected network_partition signature, got %v", p.Signatures)
	}
}

func TestDetectorStoresPatterns(t *testing.T) {
	store := &fakePatternStore{}
	detector := NewDetector(nil, store)
	events := []models.AnomalyEvent{
		event(0, models.ComponentBroker, "kafka_consumer_lag", models.SeverityWarning),
		event(0, models.ComponentStreamProcessor, "flink_task_backpressure", models.SeverityWarning),
	}
	patterns := detector.Detect(context.Background(), events, time.Minute)
	if len(patterns) != 1 {
		t.Fatalf("expected pattern")
	}
	if store.stored != 1 {
		t.Fatalf("expected pattern to be stored, got %d", store.stored)
	}
}

func TestDetectorStoreFailureIsNotFatal(t *testing.T) {
	calls := 0
	detector := NewDetector(nil, StoreFunc(func(ctx context.Context, patterns []models.Pattern) error {
		calls++
		return errors.New("store down")
	}))
	events := []models.AnomalyEvent{
		event(0, models.ComponentBroker, "kafka_consumer_lag", models.SeverityWarning),
		event(0, models.ComponentColumnarStore, "clickhouse_insert_latency", models.SeverityWarning),
	}
	if patterns := detector.Detect(context.Background(), events, time.Minute); len(patterns) != 1 {
		t.Fatalf("expected detection to succeed despite store failure")
	}
	if calls != 1 {
		t.Fatalf("expected one store call, got %d", calls)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	all := map[models.Component]bool{
		models.ComponentBroker:          true,
		models.ComponentStreamProcessor: true,
		models.ComponentColumnarStore:   true,
	}
	if got := Classify(all, 50); got != models.PatternCascadeFailure {
		t.Fatalf("cascade must win over count, got %q", got)
	}
	pipeline := map[models.Component]bool{models.ComponentBroker: true, models.ComponentStreamProcessor: true}
	if got := Classify(pipeline, 50); got != models.PatternPipelineIssue {
		t.Fatalf("pipeline must win over count, got %q", got)
	}
	other := map[models.Component]bool{models.ComponentBroker: true, models.ComponentColumnarStore: true}
	if got := Classify(other, 10); got != models.PatternCorrelatedAnomaly {
		t.Fatalf("exactly ten anomalies is not exhaustion, got %q", got)
	}
	if got := Classify(other, 11); got != models.PatternResourceExhaustion {
		t.Fatalf("expected resource exhaustion, got %q", got)
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

type annotateFunc func([]models.Pattern) []models.Pattern

func (f annotateFunc) Annotate(p []models.Pattern) []models.Pattern { return f(p) }

func TestDetectorAnnotatesBeforeStoring(t *testing.T) {
	var stored []models.Pattern
	detector := NewDetector(nil, StoreFunc(func(ctx context.Context, patterns []models.Pattern) error {
		stored = patterns
		return nil
	})).WithAnnotator(annotateFunc(func(patterns []models.Pattern) []models.Pattern {
		for i := range patterns {
			patterns[i].Recommendations = []string{"check consumer group"}
		}
		return patterns
	}))

	events := []models.AnomalyEvent{
		event(0, models.ComponentBroker, "kafka_consumer_lag", models.SeverityWarning),
		event(0, models.ComponentStreamProcessor, "flink_task_backpressure", models.SeverityWarning),
	}
	detector.Detect(context.Background(), events, time.Minute)
	if len(stored) != 1 || len(stored[0].Recommendations) != 1 {
		t.Fatalf("expected annotated pattern to be stored, got %+v", stored)
	}
}

func TestWindowStartAlignsToEpoch(t *testing.T) {
	window := 7 * time.Minute
	zone := time.FixedZone("UTC+5:30", 5*3600+1800)
	for _, offset := range []time.Duration{0, 90 * time.Second, 11 * time.Minute, 47*time.Minute + 3*time.Second} {
		at := base.Add(offset)
		start := WindowStart(at, window)
		if start.Unix()%int64(window/time.Second) != 0 {
			t.Fatalf("window for %s starts at %s, not a multiple of %s since the epoch", at, start, window)
		}
		if at.Before(start) || !at.Before(start.Add(window)) {
			t.Fatalf("window [%s, +%s) does not hold %s", start, window, at)
		}
		if local := WindowStart(at.In(zone), window); !local.Equal(start) {
			t.Fatalf("zone changed the window: %s vs %s", local, start)
		}
	}

	if got := WindowStart(time.Unix(-90, 0), window); got.Unix() != -420 {
		t.Fatalf("pre-epoch window starts at %d, want -420", got.Unix())
	}
}

func TestDetectPatternsUsesEpochAlignedWindows(t *testing.T) {
	window := 7 * time.Minute
	events := []models.AnomalyEvent{
		event(11*time.Minute, models.ComponentBroker, "kafka_consumer_lag", models.SeverityCritical),
		event(12*time.Minute, models.ComponentStreamProcessor, "flink_task_backpressure", models.SeverityWarning),
	}

	patterns := DetectPatterns(events, window)
	if len(patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(patterns))
	}
	start := patterns[0].WindowStart
	if start.Unix()%420 != 0 {
		t.Fatalf("window start %s is not epoch aligned", start)
	}
	if !start.Equal(base.Add(7 * time.Minute)) {
		t.Fatalf("expected window at %s, got %s", base.Add(7*time.Minute), start)
	}
	if patterns[0].ID != fmt.Sprintf("pattern-%d-420", start.Unix()) {
		t.Fatalf("unexpected id %q", patterns[0].ID)
	}
}

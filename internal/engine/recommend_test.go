package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

const testRules = `rules:
  - id: pipeline-lag
    match:
      pattern_type: "pipeline issue"
      components: ["kafka", "flink"]
      metric_contains: ["lag"]
    recommendations: ["Scale out consumer group", "Check Flink backpressure"]
  - id: critical-anything
    match:
      min_severity: critical
    recommendations: ["Page on-call", "Check Flink backpressure"]
  - id: memory
    match:
      signature: memory_pressure
    recommendations: ["Review heap sizing"]
`

func samplePattern() models.Pattern {
	return models.Pattern{
		ID:          "pattern-1709294400-300",
		WindowStart: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		WindowWidth: 5 * time.Minute,
		Type:        models.PatternPipelineIssue,
		Components:  []models.Component{models.ComponentStreamProcessor, models.ComponentBroker},
		MaxSeverity: models.SeverityWarning,
		Buckets: []models.TimeBucket{
			{Component: models.ComponentBroker, Metrics: []string{"kafka_consumer_lag"}},
			{Component: models.ComponentStreamProcessor, Metrics: []string{"flink_taskmanager_task_throughput"}},
		},
	}
}

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestRuleEngineRecommend(t *testing.T) {
	engine, err := NewRuleEngine(writeRules(t, testRules), slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	if engine.Len() != 3 {
		t.Fatalf("expected 3 rules, got %d", engine.Len())
	}

	recs := engine.Recommend(samplePattern())
	want := []string{"Scale out consumer group", "Check Flink backpressure"}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("unexpected recommendations: %v", recs)
	}

	critical := samplePattern()
	critical.MaxSeverity = models.SeverityCritical
	critical.Signatures = []string{"memory_pressure"}
	recs = engine.Recommend(critical)
	want = []string{"Scale out consumer group", "Check Flink backpressure", "Page on-call", "Review heap sizing"}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected deduplicated recommendations in rule order, got %v", recs)
	}
}

func TestRuleEngineComponentMismatch(t *testing.T) {
	engine, err := NewRuleEngine(writeRules(t, testRules), nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	p := samplePattern()
	p.Components = []models.Component{models.ComponentBroker, models.ComponentColumnarStore}
	if recs := engine.Recommend(p); len(recs) != 0 {
		t.Fatalf("expected no recommendations, got %v", recs)
	}
}

func TestRuleEngineAnnotate(t *testing.T) {
	engine := NewRuleEngineFromRules([]Rule{{
		ID:              "any",
		Recommendations: []string{"Inspect dashboards"},
	}}, nil)
	patterns := engine.Annotate([]models.Pattern{samplePattern(), samplePattern()})
	for _, p := range patterns {
		if !reflect.DeepEqual(p.Recommendations, []string{"Inspect dashboards"}) {
			t.Fatalf("unexpected recommendations: %v", p.Recommendations)
		}
	}
}

func TestRuleEngineNoFile(t *testing.T) {
	engine, err := NewRuleEngine("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if engine != nil {
		t.Fatalf("expected nil engine when file missing")
	}
	if recs := engine.Recommend(samplePattern()); recs != nil {
		t.Fatalf("nil engine must recommend nothing, got %v", recs)
	}
	patterns := engine.Annotate([]models.Pattern{samplePattern()})
	if len(patterns[0].Recommendations) != 0 {
		t.Fatalf("nil engine must not annotate")
	}
}

func TestRuleEngineInvalidYAML(t *testing.T) {
	if _, err := NewRuleEngine(writeRules(t, "rules: [\n"), nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

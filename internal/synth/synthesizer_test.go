package synth

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/engine"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

func newTestSynth(cfg Config) (*Synthesizer, *engine.Classifier) {
	classifier := engine.NewClassifier(nil, nil)
	return New(cfg, catalog.Default(), classifier, clock.NewMock()), classifier
}

func TestNormalBatchStaysInsideEnvelopes(t *testing.T) {
	s, _ := newTestSynth(Config{AnomalyProbability: 0, ValueSeed: 7, ScenarioSeed: 11})
	cat := catalog.Default()

	for i := 0; i < 50; i++ {
		batch := s.GenerateBatch()
		assert.Nil(t, batch.Scenario)
		assert.Zero(t, batch.DetectedCount(), "normal batch should classify clean")
		for component, values := range batch.Values {
			assert.Len(t, values, len(cat.Definitions(component)))
			for name, value := range values {
				def, ok := cat.Lookup(component, name)
				require.True(t, ok)
				assert.True(t, def.NormalRange.Contains(value), "%s=%v outside range", name, value)
			}
		}
	}
}

func TestBatchMetadata(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	s := New(Config{ValueSeed: 1, ScenarioSeed: 2}, nil, nil, mock)

	batch, err := s.NextBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mock.Now().UTC(), batch.Timestamp)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, "production", batch.Environment)
	assert.Equal(t, "main-cluster", batch.Cluster)
	assert.Equal(t, SourceName, batch.Source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.NextBatch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetricsPerComponentSubsample(t *testing.T) {
	s, _ := newTestSynth(Config{MetricsPerComponent: 8, ValueSeed: 3, ScenarioSeed: 3})
	batch := s.GenerateBatch()
	for _, component := range models.Components() {
		assert.Len(t, batch.Values[component], 8)
	}
}

func TestSameSeedsReproduceBatches(t *testing.T) {
	cfg := Config{AnomalyProbability: 0.5, ValueSeed: 42, ScenarioSeed: 99}
	a, _ := newTestSynth(cfg)
	b, _ := newTestSynth(cfg)
	for i := 0; i < 20; i++ {
		first, second := a.GenerateBatch(), b.GenerateBatch()
		assert.Equal(t, first.Values, second.Values)
		assert.Equal(t, first.Scenario, second.Scenario)
	}
}

func TestValueSeedIndependentOfScenarioSeed(t *testing.T) {
	a, _ := newTestSynth(Config{ValueSeed: 5, ScenarioSeed: 1})
	b, _ := newTestSynth(Config{ValueSeed: 5, ScenarioSeed: 2})
	assert.Equal(t, a.GenerateBatch().Values, b.GenerateBatch().Values)
}

func TestSingleComponentInjection(t *testing.T) {
	for seed := uint64(1); seed <= 200; seed++ {
		s, classifier := newTestSynth(Config{
			AnomalyProbability: 1,
			Scenario:           models.ScenarioSingleComponent,
			ValueSeed:          seed,
			ScenarioSeed:       seed * 31,
		})
		batch := s.GenerateBatch()
		require.NotNil(t, batch.Scenario)
		sc := batch.Scenario
		assert.Equal(t, models.ScenarioSingleComponent, sc.Type)
		require.Len(t, sc.Components, 1)
		require.Len(t, sc.Altered, 1)

		component := sc.Components[0]
		altered := sc.Altered[component]
		assert.GreaterOrEqual(t, len(altered), 2)
		assert.LessOrEqual(t, len(altered), 4)
		for _, name := range altered {
			res := classifier.Classify(component, name, batch.Values[component][name], engine.DefaultDurationMinutes)
			assert.True(t, res.IsAnomaly, "seed %d: %s=%v classified normal", seed, name, batch.Values[component][name])
		}
	}
}

func TestCrossComponentInjection(t *testing.T) {
	for seed := uint64(1); seed <= 100; seed++ {
		s, classifier := newTestSynth(Config{
			AnomalyProbability: 1,
			Scenario:           models.ScenarioCrossComponent,
			ValueSeed:          seed,
			ScenarioSeed:       seed + 1000,
		})
		batch := s.GenerateBatch()
		sc := batch.Scenario
		require.NotNil(t, sc)
		require.Len(t, sc.Components, 2)
		assert.NotEqual(t, sc.Components[0], sc.Components[1])
		assert.Equal(t, models.SeverityWarning, sc.Severity)
		for _, component := range sc.Components {
			for _, name := range sc.Altered[component] {
				res := classifier.Classify(component, name, batch.Values[component][name], engine.DefaultDurationMinutes)
				assert.True(t, res.IsAnomaly)
			}
			assert.NotEmpty(t, batch.Detected[component])
		}
	}
}

func TestCascadeInjectionUsesFixedValues(t *testing.T) {
	s, _ := newTestSynth(Config{AnomalyProbability: 1, Scenario: models.ScenarioCascadeFailure, ValueSeed: 9, ScenarioSeed: 9})
	batch := s.GenerateBatch()
	sc := batch.Scenario
	require.NotNil(t, sc)
	assert.Equal(t, models.SeverityCritical, sc.Severity)
	assert.Equal(t, "Cascading failure across Kafka -> Flink -> ClickHouse", sc.Description)
	assert.Equal(t, models.Components(), sc.Components)

	assert.Equal(t, 2500000.0, batch.Values[models.ComponentBroker]["kafka_consumer_lag"])
	assert.Equal(t, 0.95, batch.Values[models.ComponentStreamProcessor]["flink_task_backpressure"])
	assert.Equal(t, 5000.0, batch.Values[models.ComponentColumnarStore]["clickhouse_insert_latency"])

	// Remaining metrics are still sampled.
	assert.Len(t, batch.Values[models.ComponentBroker], len(catalog.Default().Definitions(models.ComponentBroker)))
	for _, component := range models.Components() {
		assert.NotEmpty(t, batch.Detected[component])
	}
}

func TestResourceExhaustionInjection(t *testing.T) {
	s, _ := newTestSynth(Config{AnomalyProbability: 1, Scenario: models.ScenarioResourceExhaustion, ValueSeed: 4, ScenarioSeed: 4})
	batch := s.GenerateBatch()
	require.NotNil(t, batch.Scenario)
	assert.Equal(t, "System-wide resource exhaustion", batch.Scenario.Description)

	for _, component := range models.Components() {
		for _, detection := range batch.Detected[component] {
			if detection.Metric == "clickhouse_memory_usage" || detection.Metric == "kafka_jvm_heap_usage" || detection.Metric == "flink_taskmanager_cpu_load" {
				assert.Equal(t, models.SeverityCritical, detection.Severity)
			}
		}
	}
}

func TestScenarioChoiceCoversAllTypes(t *testing.T) {
	s, _ := newTestSynth(Config{AnomalyProbability: 1, ValueSeed: 13, ScenarioSeed: 17})
	seen := map[models.ScenarioType]int{}
	for i := 0; i < 400; i++ {
		batch := s.GenerateBatch()
		require.NotNil(t, batch.Scenario)
		seen[batch.Scenario.Type]++
	}
	for _, kind := range models.ScenarioTypes() {
		assert.Greater(t, seen[kind], 40, kind)
	}
}

func TestAnomalousValueWithoutThresholds(t *testing.T) {
	def := catalog.MetricDefinition{
		Component:   models.ComponentColumnarStore,
		Name:        "clickhouse_zookeeper_wait",
		Unit:        "ms",
		NormalRange: catalog.Range{Min: 10, Max: 100},
	}
	s := NewWithRand(Config{}, nil, nil, clock.NewMock(), rand.New(rand.NewPCG(1, 2)), rand.New(rand.NewPCG(3, 4)))
	for i := 0; i < 100; i++ {
		v := s.AnomalousValue(def, models.SeverityWarning)
		assert.False(t, def.NormalRange.Contains(v), "%v inside range", v)
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestNormalValueOpenEndedRange(t *testing.T) {
	def, ok := catalog.Default().Lookup(models.ComponentStreamProcessor, "flink_jobmanager_job_uptime")
	require.True(t, ok)
	s := NewWithRand(Config{}, nil, nil, clock.NewMock(), rand.New(rand.NewPCG(1, 1)), rand.New(rand.NewPCG(2, 2)))
	for i := 0; i < 100; i++ {
		v := s.NormalValue(def)
		assert.GreaterOrEqual(t, v, 3600.0)
		assert.LessOrEqual(t, v, 14400.0)
	}
}

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/utils"
)

type fakeBatchWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	samples  []models.MetricSample
	events   []models.AnomalyEvent
}

func (f *fakeBatchWriter) WriteBatch(ctx context.Context, samples []models.MetricSample, events []models.AnomalyEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return errors.New("database is locked")
	}
	f.samples = append(f.samples, samples...)
	f.events = append(f.events, events...)
	return nil
}

var pipelineBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testPipeline(writer BatchWriter) *Pipeline {
	p := NewPipeline(nil, NewClassifier(nil, nil), writer, PipelineOptions{
		RetryInitial:    time.Millisecond,
		RetryMaxElapsed: 50 * time.Millisecond,
	})
	n := 0
	p.newID = func() string {
		n++
		return "event-" + string(rune('a'+n-1))
	}
	return p
}

func batchAt(at time.Time, values map[models.Component]map[string]float64) models.MetricBatch {
	return models.MetricBatch{ID: "batch-" + at.Format("1504"), Timestamp: at, Values: values, Source: "synthetic"}
}

func TestPipelineProcess(t *testing.T) {
	writer := &fakeBatchWriter{}
	p := testPipeline(writer)

	batch := batchAt(pipelineBase, map[models.Component]map[string]float64{
		models.ComponentBroker: {
			"kafka_consumer_lag":   120000,
			"kafka_jvm_heap_usage": 40,
			"kafka_made_up_metric": 1,
		},
		models.ComponentStreamProcessor: {"flink_task_throughput": 5000},
	})

	result, err := p.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Samples != 4 || result.Unknown != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected one event, got %+v", result.Events)
	}
	ev := result.Events[0]
	if ev.ID != "event-a" || ev.Severity != models.SeverityCritical || ev.BatchID != batch.ID || !ev.Timestamp.Equal(pipelineBase) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Reason != "value 120000 exceeds critical threshold 100000" {
		t.Fatalf("unexpected reason %q", ev.Reason)
	}
	if !result.Critical[models.ComponentBroker] || result.Critical[models.ComponentStreamProcessor] {
		t.Fatalf("unexpected critical map: %v", result.Critical)
	}
	if len(writer.samples) != 4 || len(writer.events) != 1 {
		t.Fatalf("writer received %d samples and %d events", len(writer.samples), len(writer.events))
	}
	if writer.samples[0].Metric != "kafka_consumer_lag" || writer.samples[0].Unit != "messages" {
		t.Fatalf("expected units resolved from the catalog, got %+v", writer.samples[0])
	}
}

func TestPipelineTracksOutOfRangeDuration(t *testing.T) {
	p := testPipeline(&fakeBatchWriter{})
	ctx := context.Background()
	low := func(at time.Time, v float64) ProcessResult {
		t.Helper()
		res, err := p.Process(ctx, batchAt(at, map[models.Component]map[string]float64{
			models.ComponentStreamProcessor: {"flink_task_throughput": v},
		}))
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		return res
	}

	if res := low(pipelineBase, 50); len(res.Events) != 0 {
		t.Fatalf("first out-of-range sample should not fire, got %+v", res.Events)
	}
	res := low(pipelineBase.Add(6*time.Minute), 50)
	if len(res.Events) != 1 || res.Events[0].Reason != "condition detected: throughput < 100 records/sec" {
		t.Fatalf("expected persistent condition, got %+v", res.Events)
	}

	low(pipelineBase.Add(7*time.Minute), 5000)
	if res := low(pipelineBase.Add(8*time.Minute), 50); len(res.Events) != 0 {
		t.Fatalf("return to range must reset the tracked duration, got %+v", res.Events)
	}
}

func TestPipelineRetriesWrites(t *testing.T) {
	writer := &fakeBatchWriter{failures: 2}
	p := testPipeline(writer)

	_, err := p.Process(context.Background(), batchAt(pipelineBase, map[models.Component]map[string]float64{
		models.ComponentBroker: {"kafka_consumer_lag": 100},
	}))
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if writer.calls != 3 {
		t.Fatalf("expected 3 write attempts, got %d", writer.calls)
	}
}

func TestPipelineWriteFailure(t *testing.T) {
	writer := &fakeBatchWriter{failures: -1}
	p := testPipeline(writer)

	result, err := p.Process(context.Background(), batchAt(pipelineBase, map[models.Component]map[string]float64{
		models.ComponentBroker: {"kafka_consumer_lag": 120000},
	}))
	if err == nil {
		t.Fatalf("expected write failure")
	}
	var opErr *utils.OpError
	if !errors.As(err, &opErr) || opErr.Op != "pipeline.Process" {
		t.Fatalf("expected OpError, got %T %v", err, err)
	}
	if got := utils.SubjectOf(err); got != "batch-"+pipelineBase.Format("1504") {
		t.Fatalf("expected the batch id as subject, got %q", got)
	}
	if len(result.Events) != 1 {
		t.Fatalf("result must carry classified events on failure, got %+v", result)
	}
	if writer.calls < 2 {
		t.Fatalf("expected at least one retry, got %d calls", writer.calls)
	}
}

func TestPipelineWithoutWriter(t *testing.T) {
	p := testPipeline(nil)
	result, err := p.Process(context.Background(), batchAt(pipelineBase, map[models.Component]map[string]float64{
		models.ComponentColumnarStore: {"clickhouse_memory_usage": 10},
	}))
	if err != nil {
		t.Fatalf("process without writer: %v", err)
	}
	if result.Samples != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

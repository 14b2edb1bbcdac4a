package trend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-streamwatch/internal/cache"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

func series(avgs ...float64) []models.AggregateBucket {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	out := make([]models.AggregateBucket, 0, len(avgs))
	for i, avg := range avgs {
		out = append(out, models.AggregateBucket{
			Minute: now.Add(-time.Duration(i) * time.Minute),
			Avg:    avg,
			Min:    avg - 1,
			Max:    avg + 1,
			Count:  6,
		})
	}
	return out
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestAnalyzeFlatSeriesIsStable(t *testing.T) {
	res := Analyze(models.ComponentBroker, "kafka_consumer_lag", series(repeat(100, 60)...))
	assert.Equal(t, models.TrendStable, res.Direction)
	assert.Equal(t, 60, res.Points)
	assert.Equal(t, 100.0, res.OverallAvg)
	assert.Equal(t, 99.0, res.Min)
	assert.Equal(t, 101.0, res.Max)
	assert.Equal(t, 100.0, res.Latest)

	again := Analyze(models.ComponentBroker, "kafka_consumer_lag", series(repeat(100, 60)...))
	assert.Equal(t, res, again)
}

func TestAnalyzeIncreasingAndDecreasing(t *testing.T) {
	// Most recent first: the first ten points are the newest.
	rising := append(repeat(130, 10), repeat(100, 20)...)
	res := Analyze(models.ComponentStreamProcessor, "flink_task_records_lag", series(rising...))
	assert.Equal(t, models.TrendIncreasing, res.Direction)
	assert.Equal(t, 130.0, res.RecentAvg)
	assert.Equal(t, 100.0, res.OlderAvg)

	falling := append(repeat(70, 10), repeat(100, 20)...)
	res = Analyze(models.ComponentStreamProcessor, "flink_task_records_lag", series(falling...))
	assert.Equal(t, models.TrendDecreasing, res.Direction)

	edge := append(repeat(120, 10), repeat(100, 10)...)
	res = Analyze(models.ComponentStreamProcessor, "flink_task_records_lag", series(edge...))
	assert.Equal(t, models.TrendStable, res.Direction, "exactly 1.2x is not increasing")
}

func TestAnalyzeShortSeriesUsesEndpoints(t *testing.T) {
	res := Analyze(models.ComponentColumnarStore, "clickhouse_replication_lag", series(50, 10, 20))
	assert.Equal(t, 3, res.Points)
	assert.Equal(t, 50.0, res.RecentAvg)
	assert.Equal(t, 20.0, res.OlderAvg)
	assert.Equal(t, models.TrendIncreasing, res.Direction)

	single := Analyze(models.ComponentColumnarStore, "clickhouse_replication_lag", series(7))
	assert.Equal(t, models.TrendStable, single.Direction)
	assert.Equal(t, 7.0, single.Latest)
}

func TestAnalyzeEmptySeries(t *testing.T) {
	res := Analyze(models.ComponentBroker, "kafka_consumer_lag", nil)
	assert.Equal(t, models.TrendNoData, res.Direction)
	assert.False(t, res.HasData())
	assert.Zero(t, res.OverallAvg)
}

func TestAnalyzeCapsAtSixtyPoints(t *testing.T) {
	values := append(repeat(100, 60), repeat(1, 40)...)
	res := Analyze(models.ComponentBroker, "kafka_consumer_lag", series(values...))
	assert.Equal(t, MaxPoints, res.Points)
	assert.Equal(t, models.TrendStable, res.Direction)
}

type fakeReader struct {
	calls  int
	series []models.AggregateBucket
	err    error
	limit  int
	window time.Duration
}

func (f *fakeReader) MinuteAggregates(ctx context.Context, component models.Component, metric string, start, end time.Time, limit int) ([]models.AggregateBucket, error) {
	f.calls++
	f.limit = limit
	f.window = end.Sub(start)
	return f.series, f.err
}

func TestAnalyzerTrendCachesResults(t *testing.T) {
	reader := &fakeReader{series: series(append(repeat(200, 10), repeat(100, 10)...)...)}
	analyzer := NewAnalyzer(nil, reader, cache.NewMemoryProvider(), time.Minute)

	res, err := analyzer.Trend(context.Background(), models.ComponentBroker, "kafka_consumer_lag", 2)
	require.NoError(t, err)
	assert.Equal(t, models.TrendIncreasing, res.Direction)
	assert.Equal(t, MaxPoints, reader.limit)
	assert.Equal(t, 2*time.Hour, reader.window)

	cached, err := analyzer.Trend(context.Background(), models.ComponentBroker, "kafka_consumer_lag", 2)
	require.NoError(t, err)
	assert.Equal(t, res, cached)
	assert.Equal(t, 1, reader.calls)
}

func TestAnalyzerTrendErrors(t *testing.T) {
	reader := &fakeReader{err: errors.New("store unavailable")}
	analyzer := NewAnalyzer(nil, reader, nil, time.Minute)
	_, err := analyzer.Trend(context.Background(), models.ComponentBroker, "kafka_consumer_lag", 1)
	require.Error(t, err)

	_, err = NewAnalyzer(nil, nil, nil, 0).Trend(context.Background(), models.ComponentBroker, "kafka_consumer_lag", 1)
	require.Error(t, err)
}

func TestAnalyzerTrendNoDataIsNotCached(t *testing.T) {
	reader := &fakeReader{}
	analyzer := NewAnalyzer(nil, reader, cache.NewMemoryProvider(), time.Minute)
	for i := 0; i < 2; i++ {
		res, err := analyzer.Trend(context.Background(), models.ComponentBroker, "kafka_consumer_lag", 1)
		require.NoError(t, err)
		assert.Equal(t, models.TrendNoData, res.Direction)
	}
	assert.Equal(t, 2, reader.calls)
}

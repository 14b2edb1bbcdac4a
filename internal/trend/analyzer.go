package trend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-streamwatch/internal/cache"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

const (
	// MaxPoints caps the number of per-minute buckets considered.
	MaxPoints = 60
	// sampleSize is how many points form the recent and older means.
	sampleSize = 10

	increaseRatio = 1.2
	decreaseRatio = 0.8
)

// Analyze summarises a per-minute series ordered most recent first. Points
// beyond MaxPoints are ignored. An empty series yields TrendNoData.
func Analyze(component models.Component, metric string, series []models.AggregateBucket) models.TrendResult {
	result := models.TrendResult{Component: component, Metric: metric, Direction: models.TrendNoData}
	if len(series) == 0 {
		return result
	}
	if len(series) > MaxPoints {
		series = series[:MaxPoints]
	}

	result.Points = len(series)
	result.Latest = series[0].Avg
	result.Min = series[0].Min
	result.Max = series[0].Max
	sum := 0.0
	for _, point := range series {
		sum += point.Avg
		if point.Min < result.Min {
			result.Min = point.Min
		}
		if point.Max > result.Max {
			result.Max = point.Max
		}
	}
	result.OverallAvg = sum / float64(len(series))

	if len(series) >= sampleSize {
		result.RecentAvg = meanAvg(series[:sampleSize])
		result.OlderAvg = meanAvg(series[len(series)-sampleSize:])
	} else {
		result.RecentAvg = series[0].Avg
		result.OlderAvg = series[len(series)-1].Avg
	}
	result.Direction = direction(result.RecentAvg, result.OlderAvg)
	return result
}

func direction(recent, older float64) models.TrendDirection {
	switch {
	case recent > older*increaseRatio:
		return models.TrendIncreasing
	case recent < older*decreaseRatio:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

func meanAvg(points []models.AggregateBucket) float64 {
	sum := 0.0
	for _, p := range points {
		sum += p.Avg
	}
	return sum / float64(len(points))
}

// AggregateReader returns per-minute buckets for one metric, most recent first.
type AggregateReader interface {
	MinuteAggregates(ctx context.Context, component models.Component, metric string, start, end time.Time, limit int) ([]models.AggregateBucket, error)
}

// Analyzer answers store-backed trend queries, optionally caching results.
type Analyzer struct {
	reader AggregateReader
	cache  cache.Provider
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewAnalyzer constructs an Analyzer. A nil cache disables caching.
func NewAnalyzer(logger *slog.Logger, reader AggregateReader, provider cache.Provider, ttl time.Duration) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &Analyzer{reader: reader, cache: provider, ttl: ttl, now: time.Now, logger: logger}
}

// Trend reads the last hours of per-minute buckets and analyses them.
func (a *Analyzer) Trend(ctx context.Context, component models.Component, metric string, hours int) (models.TrendResult, error) {
	if a.reader == nil {
		return models.TrendResult{}, errors.New("aggregate reader not configured")
	}
	if hours <= 0 {
		hours = 1
	}

	key := fmt.Sprintf("streamwatch:trend:%s:%s:%d", component, metric, hours)
	if cached, err := a.cache.Get(ctx, key); err == nil {
		var result models.TrendResult
		if err := json.Unmarshal(cached, &result); err == nil {
			return result, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		a.logger.Debug("trend cache get failed", slog.Any("error", err))
	}

	end := a.now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	series, err := a.reader.MinuteAggregates(ctx, component, metric, start, end, MaxPoints)
	if err != nil {
		return models.TrendResult{}, fmt.Errorf("read aggregates: %w", err)
	}
	result := Analyze(component, metric, series)

	if a.ttl > 0 && result.HasData() {
		if payload, err := json.Marshal(result); err == nil {
			if err := a.cache.Set(ctx, key, payload, a.ttl); err != nil {
				a.logger.Debug("trend cache set failed", slog.Any("error", err))
			}
		}
	}
	return result, nil
}

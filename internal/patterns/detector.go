package patterns

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// DefaultWindow is the bucket width used when the caller passes none.
const DefaultWindow = 5 * time.Minute

// resourceExhaustionCount is the bucket size above which an otherwise generic
// correlation is reported as resource exhaustion.
const resourceExhaustionCount = 10

// Store abstracts persistence for detected patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.Pattern) error
}

// Annotator enriches detected patterns before they are stored.
type Annotator interface {
	Annotate(patterns []models.Pattern) []models.Pattern
}

// Detector turns anomaly events into named cross-component patterns.
type Detector struct {
	store     Store
	annotator Annotator
	logger    *slog.Logger
}

// NewDetector constructs a Detector; store may be nil for dry runs.
func NewDetector(logger *slog.Logger, store Store) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, logger: logger}
}

// WithAnnotator sets the hook applied to patterns ahead of persistence.
func (d *Detector) WithAnnotator(a Annotator) *Detector {
	d.annotator = a
	return d
}

// Detect runs DetectPatterns, applies the annotator and persists the result when a store is set.
// Store failures are logged and do not fail detection.
func (d *Detector) Detect(ctx context.Context, events []models.AnomalyEvent, window time.Duration) []models.Pattern {
	patterns := DetectPatterns(events, window)
	if d.annotator != nil && len(patterns) > 0 {
		patterns = d.annotator.Annotate(patterns)
	}
	if d.store != nil && len(patterns) > 0 {
		if err := d.store.StorePatterns(ctx, patterns); err != nil {
			d.logger.Warn("pattern store failed", slog.Any("error", err), slog.Int("patterns", len(patterns)))
		}
	}
	return patterns
}

// DetectPatterns buckets events into fixed windows and names every window in
// which at least two distinct components are anomalous. Results are ordered
// newest window first.
func DetectPatterns(events []models.AnomalyEvent, window time.Duration) []models.Pattern {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(events) == 0 {
		return nil
	}

	windows := make(map[int64]*windowAggregate)
	for _, ev := range events {
		if !ev.Component.Valid() {
			continue
		}
		start := WindowStart(ev.Timestamp, window)
		key := start.UnixNano()
		agg, ok := windows[key]
		if !ok {
			agg = &windowAggregate{start: start, components: make(map[models.Component]*componentAggregate)}
			windows[key] = agg
		}
		agg.add(ev)
	}

	patterns := make([]models.Pattern, 0, len(windows))
	for _, agg := range windows {
		if len(agg.components) < 2 {
			continue
		}
		patterns = append(patterns, agg.pattern(window))
	}
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].WindowStart.After(patterns[j].WindowStart)
	})
	return patterns
}

// WindowStart returns the start of the window holding t. Windows are counted
// from the Unix epoch so every width lines up the same way across runs.
func WindowStart(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultWindow
	}
	ns := t.UnixNano()
	off := ns % int64(window)
	if off < 0 {
		off += int64(window)
	}
	return time.Unix(0, ns-off).UTC()
}

// Classify names a bucket from the set of components present and the total
// anomaly count.
func Classify(components map[models.Component]bool, total int) string {
	broker := components[models.ComponentBroker]
	processor := components[models.ComponentStreamProcessor]
	store := components[models.ComponentColumnarStore]
	switch {
	case broker && processor && store:
		return models.PatternCascadeFailure
	case broker && processor:
		return models.PatternPipelineIssue
	case total > resourceExhaustionCount:
		return models.PatternResourceExhaustion
	default:
		return models.PatternCorrelatedAnomaly
	}
}

type windowAggregate struct {
	start      time.Time
	total      int
	severity   models.Severity
	components map[models.Component]*componentAggregate
}

type componentAggregate struct {
	count   int
	metrics map[string]struct{}
}

func (w *windowAggregate) add(ev models.AnomalyEvent) {
	agg, ok := w.components[ev.Component]
	if !ok {
		agg = &componentAggregate{metrics: make(map[string]struct{})}
		w.components[ev.Component] = agg
	}
	agg.count++
	agg.metrics[ev.Metric] = struct{}{}
	w.total++
	if ev.Severity.Rank() > w.severity.Rank() || w.severity == "" {
		w.severity = ev.Severity
	}
}

func (w *windowAggregate) pattern(width time.Duration) models.Pattern {
	present := make(map[models.Component]bool, len(w.components))
	metricSets := make(map[models.Component][]string, len(w.components))
	components := make([]models.Component, 0, len(w.components))
	buckets := make([]models.TimeBucket, 0, len(w.components))

	for component, agg := range w.components {
		present[component] = true
		components = append(components, component)
		names := make([]string, 0, len(agg.metrics))
		for name := range agg.metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		metricSets[component] = names
	}
	sort.Slice(components, func(i, j int) bool { return components[i] < components[j] })
	for _, component := range components {
		buckets = append(buckets, models.TimeBucket{
			WindowStart:  w.start,
			WindowWidth:  width,
			Component:    component,
			AnomalyCount: w.components[component].count,
			Metrics:      metricSets[component],
		})
	}

	return models.Pattern{
		ID:           "pattern-" + strconv.FormatInt(w.start.Unix(), 10) + "-" + strconv.FormatInt(int64(width/time.Second), 10),
		WindowStart:  w.start,
		WindowWidth:  width,
		Type:         Classify(present, w.total),
		Components:   components,
		AnomalyCount: w.total,
		MaxSeverity:  w.severity,
		Buckets:      buckets,
		Signatures:   matchSignatures(metricSets),
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels batches that were classified and persisted.
	OutcomeSuccess = "success"
	// OutcomeError labels batches that failed at the source or the store.
	OutcomeError = "error"
)

var (
	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Name:      "batches_total",
			Help:      "Total number of metric batches processed, partitioned by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "streamwatch",
			Name:      "batch_seconds",
			Help:      "Time to classify and persist one batch.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Name:      "samples_classified_total",
			Help:      "Metric samples classified, partitioned by component.",
		},
		[]string{"component"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Name:      "anomalies_total",
			Help:      "Anomaly events emitted, partitioned by component and severity.",
		},
		[]string{"component", "severity"},
	)

	patternsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Name:      "patterns_total",
			Help:      "Cross-component patterns detected, partitioned by type.",
		},
		[]string{"type"},
	)

	storeRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Name:      "store_write_retries_total",
			Help:      "Batch write attempts that failed and were retried.",
		},
	)

	eventsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamwatch",
			Name:      "events_resolved_total",
			Help:      "Anomaly events closed by the resolution policy.",
		},
	)

	componentStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "streamwatch",
			Name:      "component_critical",
			Help:      "1 when the latest batch holds a critical anomaly for the component.",
		},
		[]string{"component"},
	)
)

// Register attaches streamwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		batchesTotal,
		batchDurationSeconds,
		samplesTotal,
		anomaliesTotal,
		patternsTotal,
		storeRetriesTotal,
		eventsResolvedTotal,
		componentStatus,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveBatch records a batch duration and outcome label.
func ObserveBatch(source string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	if source == "" {
		source = "unknown"
	}
	batchesTotal.WithLabelValues(source, label).Inc()
	if duration < 0 {
		duration = 0
	}
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObserveSamples counts classified samples for a component.
func ObserveSamples(component string, n int) {
	samplesTotal.WithLabelValues(component).Add(float64(n))
}

// ObserveAnomaly counts one emitted anomaly event.
func ObserveAnomaly(component, severity string) {
	anomaliesTotal.WithLabelValues(component, severity).Inc()
}

// ObservePattern counts one detected pattern.
func ObservePattern(patternType string) {
	patternsTotal.WithLabelValues(patternType).Inc()
}

// ObserveStoreRetry counts a failed write attempt that will be retried.
func ObserveStoreRetry() {
	storeRetriesTotal.Inc()
}

// ObserveResolved counts events closed by the resolution policy.
func ObserveResolved(n int64) {
	if n > 0 {
		eventsResolvedTotal.Add(float64(n))
	}
}

// SetComponentCritical publishes whether a component is currently critical.
func SetComponentCritical(component string, critical bool) {
	v := 0.0
	if critical {
		v = 1
	}
	componentStatus.WithLabelValues(component).Set(v)
}

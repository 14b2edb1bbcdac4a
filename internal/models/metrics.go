package models

import (
	"sort"
	"time"
)

// ClassificationResult is the verdict for a single metric sample.
type ClassificationResult struct {
	IsAnomaly bool     `json:"is_anomaly"`
	Severity  Severity `json:"severity"`
	Reason    string   `json:"reason"`
	// Known is false when the component or metric has no catalog definition.
	Known bool `json:"known"`
}

// MetricSample is one observed or synthesised metric value.
type MetricSample struct {
	Timestamp time.Time `json:"timestamp"`
	Component Component `json:"component"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
}

// AnomalyEvent records a sample that classified as non-normal.
type AnomalyEvent struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Component  Component  `json:"component"`
	Metric     string     `json:"metric"`
	Value      float64    `json:"value"`
	Severity   Severity   `json:"severity"`
	Reason     string     `json:"reason"`
	BatchID    string     `json:"batch_id,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether a resolution timestamp has been set.
func (e AnomalyEvent) Resolved() bool { return e.ResolvedAt != nil }

// ScenarioType tags an injected synthetic failure.
type ScenarioType string

const (
	ScenarioSingleComponent    ScenarioType = "single_component"
	ScenarioCrossComponent     ScenarioType = "cross_component"
	ScenarioCascadeFailure     ScenarioType = "cascade_failure"
	ScenarioResourceExhaustion ScenarioType = "resource_exhaustion"
)

// ScenarioTypes lists injectable scenarios in a stable order.
func ScenarioTypes() []ScenarioType {
	return []ScenarioType{
		ScenarioSingleComponent,
		ScenarioCascadeFailure,
		ScenarioResourceExhaustion,
		ScenarioCrossComponent,
	}
}

// Scenario describes the failure injected into a synthetic batch.
type Scenario struct {
	Type        ScenarioType           `json:"type"`
	Components  []Component            `json:"components"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Altered     map[Component][]string `json:"altered_metrics"`
}

// Detection is a self-annotation attached to a generated batch.
type Detection struct {
	Metric   string   `json:"metric"`
	Value    float64  `json:"value"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
}

// MetricBatch is one polling interval worth of values across components.
type MetricBatch struct {
	ID          string                           `json:"id"`
	Timestamp   time.Time                        `json:"timestamp"`
	Values      map[Component]map[string]float64 `json:"metrics"`
	Scenario    *Scenario                        `json:"scenario,omitempty"`
	Detected    map[Component][]Detection        `json:"detected_anomalies,omitempty"`
	Environment string                           `json:"environment,omitempty"`
	Cluster     string                           `json:"cluster,omitempty"`
	Source      string                           `json:"source,omitempty"`
}

// Samples flattens the batch in component then metric order.
func (b MetricBatch) Samples(unitOf func(Component, string) string) []MetricSample {
	samples := make([]MetricSample, 0)
	for _, component := range Components() {
		values, ok := b.Values[component]
		if !ok {
			continue
		}
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sample := MetricSample{
				Timestamp: b.Timestamp,
				Component: component,
				Metric:    name,
				Value:     values[name],
				BatchID:   b.ID,
			}
			if unitOf != nil {
				sample.Unit = unitOf(component, name)
			}
			samples = append(samples, sample)
		}
	}
	return samples
}

// DetectedCount returns the number of self-annotated anomalies.
func (b MetricBatch) DetectedCount() int {
	total := 0
	for _, detections := range b.Detected {
		total += len(detections)
	}
	return total
}

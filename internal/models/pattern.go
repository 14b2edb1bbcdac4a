package models

import "time"

// Pattern type names emitted by the detector.
const (
	PatternCascadeFailure     = "cascade failure"
	PatternPipelineIssue      = "pipeline issue"
	PatternResourceExhaustion = "resource exhaustion"
	PatternCorrelatedAnomaly  = "correlated anomaly"
)

// TimeBucket summarises one component's anomalies inside a window.
type TimeBucket struct {
	WindowStart  time.Time     `json:"window_start"`
	WindowWidth  time.Duration `json:"window_width"`
	Component    Component     `json:"component"`
	AnomalyCount int           `json:"anomaly_count"`
	Metrics      []string      `json:"metrics"`
}

// Pattern is a named cross-component correlation within one window.
type Pattern struct {
	ID              string        `json:"id"`
	WindowStart     time.Time     `json:"window_start"`
	WindowWidth     time.Duration `json:"window_width"`
	Type            string        `json:"type"`
	Components      []Component   `json:"components"`
	AnomalyCount    int           `json:"anomaly_count"`
	MaxSeverity     Severity      `json:"max_severity"`
	Buckets         []TimeBucket  `json:"buckets"`
	Signatures      []string      `json:"signatures,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// HasComponent reports whether the pattern touches c.
func (p Pattern) HasComponent(c Component) bool {
	for _, existing := range p.Components {
		if existing == c {
			return true
		}
	}
	return false
}

// Metrics returns every metric seen in the pattern's buckets.
func (p Pattern) Metrics() []string {
	out := make([]string, 0)
	for _, bucket := range p.Buckets {
		out = append(out, bucket.Metrics...)
	}
	return out
}

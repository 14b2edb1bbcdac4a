package models

import "time"

// EventQuery filters anomaly events read from the store.
type EventQuery struct {
	Start          time.Time
	End            time.Time
	Component      Component
	Severity       Severity
	UnresolvedOnly bool
	Limit          int
}

// SeverityCount is one row of an anomaly summary.
type SeverityCount struct {
	Component     Component `json:"component" db:"component"`
	Severity      Severity  `json:"severity" db:"severity"`
	Count         int64     `json:"count" db:"event_count"`
	UniqueMetrics int64     `json:"unique_metrics" db:"unique_metrics"`
}

// MetricCount ranks metrics by anomaly frequency.
type MetricCount struct {
	Component Component `json:"component" db:"component"`
	Metric    string    `json:"metric" db:"metric_name"`
	Count     int64     `json:"count" db:"event_count"`
}

// AnomalySummary aggregates events over a lookback window.
type AnomalySummary struct {
	Since      time.Time       `json:"since"`
	Total      int64           `json:"total"`
	BySeverity []SeverityCount `json:"by_component_severity"`
	TopMetrics []MetricCount   `json:"top_metrics"`
}

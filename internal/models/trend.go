package models

import "time"

// TrendDirection is the coarse movement of a metric over a window.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
	TrendNoData     TrendDirection = "no_data"
)

// AggregateBucket is one per-minute rollup for a single metric.
type AggregateBucket struct {
	Minute time.Time `json:"minute"`
	Avg    float64   `json:"avg"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Count  int64     `json:"count"`
}

// TrendResult summarises a per-minute series.
type TrendResult struct {
	Component  Component      `json:"component"`
	Metric     string         `json:"metric"`
	Points     int            `json:"points"`
	OverallAvg float64        `json:"overall_avg"`
	Min        float64        `json:"min"`
	Max        float64        `json:"max"`
	Latest     float64        `json:"latest"`
	RecentAvg  float64        `json:"recent_avg"`
	OlderAvg   float64        `json:"older_avg"`
	Direction  TrendDirection `json:"direction"`
}

// HasData reports whether the result was computed from at least one point.
func (t TrendResult) HasData() bool { return t.Direction != TrendNoData && t.Points > 0 }

package models

import (
	"fmt"
	"strings"
)

// Component identifies one of the three monitored platform tiers.
type Component string

const (
	// ComponentBroker is the message broker tier.
	ComponentBroker Component = "kafka"
	// ComponentStreamProcessor is the continuous computation tier.
	ComponentStreamProcessor Component = "flink"
	// ComponentColumnarStore is the analytical database tier.
	ComponentColumnarStore Component = "clickhouse"
)

var components = []Component{ComponentBroker, ComponentStreamProcessor, ComponentColumnarStore}

// Components returns every known component in pipeline order.
func Components() []Component {
	return append([]Component(nil), components...)
}

// Valid reports whether c is one of the known components.
func (c Component) Valid() bool {
	switch c {
	case ComponentBroker, ComponentStreamProcessor, ComponentColumnarStore:
		return true
	}
	return false
}

func (c Component) String() string { return string(c) }

// Role returns the platform role of the component.
func (c Component) Role() string {
	switch c {
	case ComponentBroker:
		return "broker"
	case ComponentStreamProcessor:
		return "stream processor"
	case ComponentColumnarStore:
		return "columnar store"
	default:
		return "unknown"
	}
}

// ParseComponent accepts the component name or its role alias.
func ParseComponent(value string) (Component, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "kafka", "broker":
		return ComponentBroker, nil
	case "flink", "stream_processor", "stream-processor":
		return ComponentStreamProcessor, nil
	case "clickhouse", "columnar_store", "columnar-store":
		return ComponentColumnarStore, nil
	}
	return "", fmt.Errorf("unknown component %q", value)
}

// Severity captures impact levels.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can pick the worst of several.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// ParseSeverity maps a string onto a severity, rejecting unknown values.
func ParseSeverity(value string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityNormal:
		return SeverityNormal, nil
	case SeverityWarning:
		return SeverityWarning, nil
	case SeverityCritical:
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("unknown severity %q", value)
}

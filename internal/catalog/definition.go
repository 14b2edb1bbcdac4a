package catalog

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// ErrMalformedDefinition marks a definition whose envelope is inconsistent.
var ErrMalformedDefinition = errors.New("malformed metric definition")

// Direction is the side of the normal range on which thresholds fire.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Range is an inclusive [Min, Max] envelope. Max may be +Inf.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies inside the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounded reports whether both ends of the range are finite.
func (r Range) Bounded() bool {
	return !math.IsInf(r.Min, 0) && !math.IsInf(r.Max, 0)
}

// MetricDefinition is the operating envelope for one component metric.
type MetricDefinition struct {
	Component   models.Component
	Name        string
	Description string
	Unit        string
	NormalRange Range
	Warning     *float64
	Critical    *float64
	Direction   Direction
	Conditions  []string
}

// WarningThreshold returns the warning threshold when one is declared.
func (d MetricDefinition) WarningThreshold() (float64, bool) {
	if d.Warning == nil {
		return 0, false
	}
	return *d.Warning, true
}

// CriticalThreshold returns the critical threshold when one is declared.
func (d MetricDefinition) CriticalThreshold() (float64, bool) {
	if d.Critical == nil {
		return 0, false
	}
	return *d.Critical, true
}

// ThresholdDirection defaults to above when unset.
func (d MetricDefinition) ThresholdDirection() Direction {
	if d.Direction == "" {
		return DirectionAbove
	}
	return d.Direction
}

// IsRate reports whether the unit describes a rate or per-time quantity.
func (d MetricDefinition) IsRate() bool {
	unit := strings.ToLower(d.Unit)
	if strings.Contains(unit, "rate") {
		return true
	}
	for _, suffix := range []string{"/sec", "/s", "/min"} {
		if strings.HasSuffix(unit, suffix) {
			return true
		}
	}
	return false
}

// Validate checks the envelope ordering rules.
func (d MetricDefinition) Validate() error {
	key := string(d.Component) + "/" + d.Name
	if !d.Component.Valid() {
		return fmt.Errorf("%s: %w: unknown component", key, ErrMalformedDefinition)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%s: %w: empty metric name", key, ErrMalformedDefinition)
	}
	r := d.NormalRange
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min > r.Max {
		return fmt.Errorf("%s: %w: invalid normal range [%v, %v]", key, ErrMalformedDefinition, r.Min, r.Max)
	}

	dir := d.ThresholdDirection()
	if dir != DirectionAbove && dir != DirectionBelow {
		return fmt.Errorf("%s: %w: unknown threshold direction %q", key, ErrMalformedDefinition, dir)
	}

	warning, hasWarning := d.WarningThreshold()
	critical, hasCritical := d.CriticalThreshold()
	if hasWarning && !outside(warning, r, dir) {
		return fmt.Errorf("%s: %w: warning threshold %v is not %s normal range [%v, %v]", key, ErrMalformedDefinition, warning, dir, r.Min, r.Max)
	}
	if hasCritical && !outside(critical, r, dir) {
		return fmt.Errorf("%s: %w: critical threshold %v is not %s normal range [%v, %v]", key, ErrMalformedDefinition, critical, dir, r.Min, r.Max)
	}
	if hasWarning && hasCritical {
		if dir == DirectionAbove && critical <= warning {
			return fmt.Errorf("%s: %w: critical threshold %v must exceed warning threshold %v", key, ErrMalformedDefinition, critical, warning)
		}
		if dir == DirectionBelow && critical >= warning {
			return fmt.Errorf("%s: %w: critical threshold %v must be below warning threshold %v", key, ErrMalformedDefinition, critical, warning)
		}
	}
	return nil
}

func outside(threshold float64, r Range, dir Direction) bool {
	if math.IsNaN(threshold) {
		return false
	}
	if dir == DirectionBelow {
		return threshold < r.Min
	}
	return threshold > r.Max
}

func (d MetricDefinition) clone() MetricDefinition {
	out := d
	if d.Warning != nil {
		w := *d.Warning
		out.Warning = &w
	}
	if d.Critical != nil {
		c := *d.Critical
		out.Critical = &c
	}
	out.Conditions = append([]string(nil), d.Conditions...)
	return out
}

// Threshold returns a pointer suitable for MetricDefinition thresholds.
func Threshold(v float64) *float64 {
	return &v
}

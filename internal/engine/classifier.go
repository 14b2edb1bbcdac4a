package engine

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// DefaultDurationMinutes is the persistence assumed when the caller has none.
const DefaultDurationMinutes = 5.0

// Definitions resolves metric envelopes.
type Definitions interface {
	Lookup(component models.Component, metric string) (catalog.MetricDefinition, bool)
}

// Classifier evaluates single samples against catalog envelopes. It holds no
// mutable state and may be shared between goroutines.
type Classifier struct {
	defs   Definitions
	logger *slog.Logger
}

// NewClassifier constructs a Classifier. A nil catalog uses the built-in one.
func NewClassifier(logger *slog.Logger, defs Definitions) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if defs == nil {
		defs = catalog.Default()
	}
	return &Classifier{defs: defs, logger: logger}
}

// Classify returns the severity verdict for one sample. durationMinutes is how
// long the value has been outside its normal range.
func (c *Classifier) Classify(component models.Component, metric string, value, durationMinutes float64) models.ClassificationResult {
	if !component.Valid() {
		return models.ClassificationResult{Severity: models.SeverityNormal, Reason: "unknown component"}
	}
	def, ok := c.defs.Lookup(component, metric)
	if !ok {
		c.logger.Debug("metric not in catalog", slog.String("component", string(component)), slog.String("metric", metric))
		return models.ClassificationResult{Severity: models.SeverityNormal, Reason: "unknown metric"}
	}

	if def.NormalRange.Contains(value) {
		return normal("within normal range")
	}

	critical, hasCritical := def.CriticalThreshold()
	warning, hasWarning := def.WarningThreshold()
	switch def.ThresholdDirection() {
	case catalog.DirectionBelow:
		if hasCritical && value <= critical {
			return anomaly(models.SeverityCritical, fmt.Sprintf("value %s below critical threshold %s", formatValue(value), formatValue(critical)))
		}
		if hasWarning && value <= warning {
			return anomaly(models.SeverityWarning, fmt.Sprintf("value %s below warning threshold %s", formatValue(value), formatValue(warning)))
		}
	default:
		if hasCritical && value >= critical {
			return anomaly(models.SeverityCritical, fmt.Sprintf("value %s exceeds critical threshold %s", formatValue(value), formatValue(critical)))
		}
		if hasWarning && value >= warning {
			return anomaly(models.SeverityWarning, fmt.Sprintf("value %s exceeds warning threshold %s", formatValue(value), formatValue(warning)))
		}
	}

	// Only the persistence of an out-of-range value is evaluated; the
	// condition text itself is operator guidance.
	if durationMinutes > DefaultDurationMinutes && len(def.Conditions) > 0 {
		return anomaly(models.SeverityWarning, "condition detected: "+def.Conditions[0])
	}
	return normal("no anomaly detected")
}

// ClassifyBatch annotates every value in the batch, keyed by component.
func (c *Classifier) ClassifyBatch(values map[models.Component]map[string]float64) map[models.Component][]models.Detection {
	detected := make(map[models.Component][]models.Detection)
	batch := models.MetricBatch{Values: values}
	for _, sample := range batch.Samples(nil) {
		res := c.Classify(sample.Component, sample.Metric, sample.Value, DefaultDurationMinutes)
		if !res.IsAnomaly {
			continue
		}
		detected[sample.Component] = append(detected[sample.Component], models.Detection{
			Metric:   sample.Metric,
			Value:    sample.Value,
			Severity: res.Severity,
			Reason:   res.Reason,
		})
	}
	return detected
}

func normal(reason string) models.ClassificationResult {
	return models.ClassificationResult{Severity: models.SeverityNormal, Reason: reason, Known: true}
}

func anomaly(severity models.Severity, reason string) models.ClassificationResult {
	return models.ClassificationResult{IsAnomaly: true, Severity: severity, Reason: reason, Known: true}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// SourceName labels batches produced by the synthesizer.
const SourceName = "synthetic"

// Config controls batch generation.
type Config struct {
	// AnomalyProbability is the chance that a batch receives an injected scenario.
	AnomalyProbability float64
	// Scenario forces the injected scenario type when set.
	Scenario models.ScenarioType
	// MetricsPerComponent samples a random subset per component; zero emits all.
	MetricsPerComponent int
	Environment         string
	Cluster             string
	// ValueSeed and ScenarioSeed seed the two generators; zero picks a random seed.
	ValueSeed    uint64
	ScenarioSeed uint64
}

// Annotator classifies every value of a batch.
type Annotator interface {
	ClassifyBatch(values map[models.Component]map[string]float64) map[models.Component][]models.Detection
}

// Synthesizer produces envelope-aware metric batches. It is not safe for
// concurrent use; give each goroutine its own instance.
type Synthesizer struct {
	cfg       Config
	catalog   *catalog.Catalog
	annotator Annotator
	clock     clock.Clock
	values    *rand.Rand
	scenarios *rand.Rand
}

// New builds a Synthesizer seeded from cfg.
func New(cfg Config, cat *catalog.Catalog, annotator Annotator, clk clock.Clock) *Synthesizer {
	return NewWithRand(cfg, cat, annotator, clk, newRand(cfg.ValueSeed), newRand(cfg.ScenarioSeed))
}

// NewWithRand builds a Synthesizer around caller-owned generators.
func NewWithRand(cfg Config, cat *catalog.Catalog, annotator Annotator, clk clock.Clock, values, scenarios *rand.Rand) *Synthesizer {
	if cat == nil {
		cat = catalog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.Cluster == "" {
		cfg.Cluster = "main-cluster"
	}
	return &Synthesizer{
		cfg:       cfg,
		catalog:   cat,
		annotator: annotator,
		clock:     clk,
		values:    values,
		scenarios: scenarios,
	}
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NextBatch implements the polling loop source contract.
func (s *Synthesizer) NextBatch(ctx context.Context) (models.MetricBatch, error) {
	if err := ctx.Err(); err != nil {
		return models.MetricBatch{}, err
	}
	return s.GenerateBatch(), nil
}

// GenerateBatch produces one timestamped batch, possibly with an injected
// scenario, annotated with the anomalies the classifier finds in it.
func (s *Synthesizer) GenerateBatch() models.MetricBatch {
	batch := models.MetricBatch{
		ID:          uuid.NewString(),
		Timestamp:   s.clock.Now().UTC(),
		Values:      s.normalValues(),
		Environment: s.cfg.Environment,
		Cluster:     s.cfg.Cluster,
		Source:      SourceName,
	}

	if s.scenarios.Float64() < s.cfg.AnomalyProbability {
		batch.Scenario = s.inject(batch.Values, s.pickScenario())
	}
	if s.annotator != nil {
		batch.Detected = s.annotator.ClassifyBatch(batch.Values)
	}
	return batch
}

func (s *Synthesizer) pickScenario() models.ScenarioType {
	if s.cfg.Scenario != "" {
		return s.cfg.Scenario
	}
	types := models.ScenarioTypes()
	return types[s.scenarios.IntN(len(types))]
}

func (s *Synthesizer) normalValues() map[models.Component]map[string]float64 {
	out := make(map[models.Component]map[string]float64, 3)
	for _, component := range models.Components() {
		defs := s.catalog.Definitions(component)
		if n := s.cfg.MetricsPerComponent; n > 0 && n < len(defs) {
			picked := make([]catalog.MetricDefinition, 0, n)
			for _, idx := range s.values.Perm(len(defs))[:n] {
				picked = append(picked, defs[idx])
			}
			defs = picked
		}
		values := make(map[string]float64, len(defs))
		for _, def := range defs {
			values[def.Name] = s.NormalValue(def)
		}
		out[component] = values
	}
	return out
}

// NormalValue samples a value inside the definition's normal range. Rate
// metrics are log-normal around the midpoint, others Gaussian with sigma
// width/6. Samples are clamped into range, so edges are over-represented.
func (s *Synthesizer) NormalValue(def catalog.MetricDefinition) float64 {
	lo, hi := def.NormalRange.Min, def.NormalRange.Max
	if math.IsInf(hi, 1) {
		hi = openCeiling(lo)
	}
	mid := (lo + hi) / 2

	var v float64
	if def.IsRate() {
		v = mid * math.Exp(0.3*s.values.NormFloat64())
	} else {
		v = mid + s.values.NormFloat64()*(hi-lo)/6
	}
	return round2(clamp(v, lo, hi))
}

// AnomalousValue samples a value that breaches the definition at severity.
func (s *Synthesizer) AnomalousValue(def catalog.MetricDefinition, severity models.Severity) float64 {
	below := def.ThresholdDirection() == catalog.DirectionBelow
	r := def.NormalRange

	var v float64
	if severity == models.SeverityCritical {
		if threshold, ok := def.CriticalThreshold(); ok {
			if below {
				v = threshold * s.uniform(0.1, 0.5)
			} else {
				v = threshold * s.uniform(1.1, 2.0)
			}
		} else if s.scenarios.IntN(2) == 0 {
			v = finiteMax(r) * s.uniform(2, 5)
		} else {
			v = r.Min * s.uniform(0.01, 0.1)
		}
	} else {
		if threshold, ok := def.WarningThreshold(); ok {
			if below {
				v = threshold * s.uniform(0.7, 1.0)
			} else {
				v = threshold * s.uniform(1.0, 1.3)
			}
		} else if s.scenarios.IntN(2) == 0 {
			v = finiteMax(r) * s.uniform(1.2, 1.5)
		} else {
			v = r.Min * s.uniform(0.5, 0.8)
		}
	}
	return round2(math.Max(0, v))
}

func (s *Synthesizer) inject(values map[models.Component]map[string]float64, kind models.ScenarioType) *models.Scenario {
	scenario := &models.Scenario{Type: kind, Altered: make(map[models.Component][]string)}

	switch kind {
	case models.ScenarioCascadeFailure, models.ScenarioResourceExhaustion:
		fixed, description := fixedScenario(kind)
		scenario.Severity = models.SeverityCritical
		scenario.Description = description
		for _, component := range models.Components() {
			names := make([]string, 0, len(fixed[component]))
			for name, value := range fixed[component] {
				values[component][name] = value
				names = append(names, name)
			}
			sort.Strings(names)
			scenario.Components = append(scenario.Components, component)
			scenario.Altered[component] = names
		}

	case models.ScenarioCrossComponent:
		all := models.Components()
		perm := s.scenarios.Perm(len(all))
		picked := []models.Component{all[perm[0]], all[perm[1]]}
		sort.Slice(picked, func(i, j int) bool { return componentIndex(picked[i]) < componentIndex(picked[j]) })
		for _, component := range picked {
			scenario.Altered[component] = s.injectComponent(values, component, models.SeverityWarning)
		}
		scenario.Components = picked
		scenario.Severity = models.SeverityWarning
		names := make([]string, 0, len(picked))
		for _, c := range picked {
			names = append(names, string(c))
		}
		scenario.Description = "Multiple components affected: " + strings.Join(names, ", ")

	default:
		scenario.Type = models.ScenarioSingleComponent
		all := models.Components()
		component := all[s.scenarios.IntN(len(all))]
		severity := models.SeverityWarning
		if s.scenarios.IntN(2) == 1 {
			severity = models.SeverityCritical
		}
		scenario.Altered[component] = s.injectComponent(values, component, severity)
		scenario.Components = []models.Component{component}
		scenario.Severity = severity
		scenario.Description = fmt.Sprintf("%s experiencing %s issues", component, severity)
	}
	return scenario
}

// injectComponent replaces 2-4 random metrics of component with breaching values.
func (s *Synthesizer) injectComponent(values map[models.Component]map[string]float64, component models.Component, severity models.Severity) []string {
	defs := s.catalog.Definitions(component)
	count := 2 + s.scenarios.IntN(3)
	if count > len(defs) {
		count = len(defs)
	}
	if values[component] == nil {
		values[component] = make(map[string]float64)
	}
	altered := make([]string, 0, count)
	for _, idx := range s.scenarios.Perm(len(defs))[:count] {
		def := defs[idx]
		values[component][def.Name] = s.AnomalousValue(def, severity)
		altered = append(altered, def.Name)
	}
	sort.Strings(altered)
	return altered
}

func (s *Synthesizer) uniform(lo, hi float64) float64 {
	return lo + s.scenarios.Float64()*(hi-lo)
}

func componentIndex(c models.Component) int {
	for i, known := range models.Components() {
		if known == c {
			return i
		}
	}
	return len(models.Components())
}

// openCeiling bounds sampling for ranges with no upper limit.
func openCeiling(floor float64) float64 {
	if floor <= 0 {
		return 1
	}
	return floor * 4
}

func finiteMax(r catalog.Range) float64 {
	if math.IsInf(r.Max, 1) {
		return openCeiling(r.Min)
	}
	return r.Max
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// RuleEngine attaches operator recommendations to detected patterns.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match anything.
type RuleMatch struct {
	PatternType    string   `yaml:"pattern_type"`
	Components     []string `yaml:"components"`
	MinSeverity    string   `yaml:"min_severity"`
	Signature      string   `yaml:"signature"`
	MetricContains []string `yaml:"metric_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. If path is empty, returns nil engine.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return NewRuleEngineFromRules(cfg.Rules, logger), nil
}

// NewRuleEngineFromRules builds an engine from in-memory rules.
func NewRuleEngineFromRules(rules []Rule, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: rules, logger: logger}
}

// Len reports how many rules are loaded.
func (e *RuleEngine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Recommend returns the recommendations of every rule matching the pattern.
func (e *RuleEngine) Recommend(p models.Pattern) []string {
	if e == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Match.PatternType != "" && !strings.EqualFold(rule.Match.PatternType, p.Type) {
			continue
		}
		if len(rule.Match.Components) > 0 && !componentsPresent(rule.Match.Components, p) {
			continue
		}
		if rule.Match.MinSeverity != "" && !severityAtLeast(rule.Match.MinSeverity, p.MaxSeverity) {
			continue
		}
		if rule.Match.Signature != "" && !hasSignature(rule.Match.Signature, p.Signatures) {
			continue
		}
		if len(rule.Match.MetricContains) > 0 && !metricsContain(rule.Match.MetricContains, p.Metrics()) {
			continue
		}
		e.logger.Debug("recommendation rule matched", slog.String("rule", rule.ID), slog.String("pattern", p.ID))
		matched = appendUnique(matched, rule.Recommendations...)
	}
	return matched
}

// Annotate fills Recommendations on each pattern in place and returns the slice.
func (e *RuleEngine) Annotate(patterns []models.Pattern) []models.Pattern {
	if e == nil {
		return patterns
	}
	for i := range patterns {
		patterns[i].Recommendations = appendUnique(patterns[i].Recommendations, e.Recommend(patterns[i])...)
	}
	return patterns
}

// componentsPresent requires every listed component to participate in the pattern.
func componentsPresent(components []string, p models.Pattern) bool {
	for _, raw := range components {
		c, err := models.ParseComponent(raw)
		if err != nil || !p.HasComponent(c) {
			return false
		}
	}
	return true
}

func severityAtLeast(min string, actual models.Severity) bool {
	threshold, err := models.ParseSeverity(min)
	if err != nil {
		return false
	}
	return actual.Rank() >= threshold.Rank()
}

func hasSignature(name string, signatures []string) bool {
	for _, s := range signatures {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

func metricsContain(keywords []string, metrics []string) bool {
	for _, metric := range metrics {
		lower := strings.ToLower(metric)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}

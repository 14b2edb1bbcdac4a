package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// OverrideFile is the YAML root of a catalog override document.
type OverrideFile struct {
	Metrics []MetricOverride `yaml:"metrics"`
}

// MetricOverride replaces fields of an existing definition or declares a new
// one. Omitted fields keep their built-in values.
type MetricOverride struct {
	Component   string    `yaml:"component"`
	Name        string    `yaml:"name"`
	Description *string   `yaml:"description"`
	Unit        *string   `yaml:"unit"`
	NormalRange *Range    `yaml:"normal_range"`
	Warning     *float64  `yaml:"warning_threshold"`
	Critical    *float64  `yaml:"critical_threshold"`
	Direction   *string   `yaml:"threshold_direction"`
	Conditions  *[]string `yaml:"anomaly_conditions"`
}

// LoadOverrides applies the overrides at path on top of base. An empty path
// returns base unchanged.
func LoadOverrides(base *Catalog, path string) (*Catalog, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog overrides: %w", err)
	}
	return ApplyOverrides(base, data)
}

// ApplyOverrides parses a YAML override document and merges it into base.
func ApplyOverrides(base *Catalog, data []byte) (*Catalog, error) {
	var file OverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog overrides: %w", err)
	}

	defs := make([]MetricDefinition, 0, len(file.Metrics))
	for _, o := range file.Metrics {
		component, err := models.ParseComponent(o.Component)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", o.Name, err)
		}
		def, exists := base.Lookup(component, o.Name)
		if !exists {
			def = MetricDefinition{Component: component, Name: o.Name, Direction: DirectionAbove}
		}
		if o.Description != nil {
			def.Description = *o.Description
		}
		if o.Unit != nil {
			def.Unit = *o.Unit
		}
		if o.NormalRange != nil {
			def.NormalRange = *o.NormalRange
		}
		if o.Warning != nil {
			def.Warning = Threshold(*o.Warning)
		}
		if o.Critical != nil {
			def.Critical = Threshold(*o.Critical)
		}
		if o.Direction != nil {
			def.Direction = Direction(*o.Direction)
		}
		if o.Conditions != nil {
			def.Conditions = append([]string(nil), (*o.Conditions)...)
		}
		defs = append(defs, def)
	}
	return base.With(defs...)
}

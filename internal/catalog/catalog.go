package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// Catalog is a read-only index of metric definitions keyed by component.
// It is safe for concurrent use once constructed.
type Catalog struct {
	defs   map[models.Component]map[string]MetricDefinition
	owners map[string]models.Component
}

// New validates the supplied definitions and builds a catalog. Every
// malformed entry is reported in the returned error.
func New(defs ...MetricDefinition) (*Catalog, error) {
	c := &Catalog{
		defs:   make(map[models.Component]map[string]MetricDefinition),
		owners: make(map[string]models.Component),
	}

	var result *multierror.Error
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if owner, exists := c.owners[def.Name]; exists {
			result = multierror.Append(result, fmt.Errorf("%s/%s: %w: already defined for %s", def.Component, def.Name, ErrMalformedDefinition, owner))
			continue
		}
		if c.defs[def.Component] == nil {
			c.defs[def.Component] = make(map[string]MetricDefinition)
		}
		c.defs[def.Component][def.Name] = def.clone()
		c.owners[def.Name] = def.Component
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in platform catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := New(builtinDefinitions()...)
		if err != nil {
			panic(fmt.Sprintf("built-in metric catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Lookup returns the definition for component/metric.
func (c *Catalog) Lookup(component models.Component, metric string) (MetricDefinition, bool) {
	if c == nil {
		return MetricDefinition{}, false
	}
	byName, ok := c.defs[component]
	if !ok {
		return MetricDefinition{}, false
	}
	def, ok := byName[metric]
	if !ok {
		return MetricDefinition{}, false
	}
	return def.clone(), true
}

// Resolve finds the component that owns a metric name.
func (c *Catalog) Resolve(metric string) (models.Component, bool) {
	if c == nil {
		return "", false
	}
	owner, ok := c.owners[metric]
	return owner, ok
}

// Definitions lists a component's definitions sorted by name.
func (c *Catalog) Definitions(component models.Component) []MetricDefinition {
	if c == nil {
		return nil
	}
	byName := c.defs[component]
	out := make([]MetricDefinition, 0, len(byName))
	for _, def := range byName {
		out = append(out, def.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All lists every definition in component order.
func (c *Catalog) All() []MetricDefinition {
	out := make([]MetricDefinition, 0, c.Len())
	for _, component := range models.Components() {
		out = append(out, c.Definitions(component)...)
	}
	return out
}

// Names returns every metric name, sorted.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.owners))
	for name := range c.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unit returns the unit of a metric or an empty string.
func (c *Catalog) Unit(component models.Component, metric string) string {
	def, ok := c.Lookup(component, metric)
	if !ok {
		return ""
	}
	return def.Unit
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.owners)
}

// With returns a new catalog where the given definitions replace or extend
// the existing ones. The receiver is left untouched.
func (c *Catalog) With(overrides ...MetricDefinition) (*Catalog, error) {
	merged := make(map[string]MetricDefinition, c.Len()+len(overrides))
	order := make([]string, 0, c.Len()+len(overrides))
	for _, def := range c.All() {
		key := string(def.Component) + "/" + def.Name
		merged[key] = def
		order = append(order, key)
	}
	for _, def := range overrides {
		key := string(def.Component) + "/" + def.Name
		if _, exists := merged[key]; !exists {
			order = append(order, key)
		}
		merged[key] = def
	}
	defs := make([]MetricDefinition, 0, len(order))
	for _, key := range order {
		defs = append(defs, merged[key])
	}
	return New(defs...)
}

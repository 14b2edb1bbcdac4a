package patterns

import (
	"strings"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// Signature names a known cross-component failure shape. A bucket matches
// when, for every listed component, at least one anomalous metric name
// contains one of the listed fragments.
type Signature struct {
	Name        string
	Description string
	Indicators  map[models.Component][]string
}

// Signatures is the built-in indicator table.
var Signatures = []Signature{
	{
		Name:        "network_partition",
		Description: "Network connectivity issues",
		Indicators: map[models.Component][]string{
			models.ComponentBroker:          {"isr_shrink", "under_replicated", "leader_election"},
			models.ComponentStreamProcessor: {"checkpoint_duration", "checkpoint_failure"},
			models.ComponentColumnarStore:   {"replication_lag", "replication_queue"},
		},
	},
	{
		Name:        "coordinated_spike",
		Description: "Sudden spike in input and request rates on every component",
		Indicators: map[models.Component][]string{
			models.ComponentBroker:          {"messages_in", "bytes_in"},
			models.ComponentStreamProcessor: {"throughput", "network_io"},
			models.ComponentColumnarStore:   {"queries_per_second", "connections", "inserts_per_second"},
		},
	},
	{
		Name:        "pipeline_blockage",
		Description: "Data pipeline is blocked",
		Indicators: map[models.Component][]string{
			models.ComponentBroker:          {"consumer_lag"},
			models.ComponentStreamProcessor: {"throughput", "records_lag", "backpressure"},
			models.ComponentColumnarStore:   {"insert", "background_pool"},
		},
	},
	{
		Name:        "memory_pressure",
		Description: "Memory exhausted across components",
		Indicators: map[models.Component][]string{
			models.ComponentBroker:          {"heap", "gc_pause"},
			models.ComponentStreamProcessor: {"heap"},
			models.ComponentColumnarStore:   {"memory"},
		},
	},
}

// Matches reports whether the per-component metric sets satisfy s.
func (s Signature) Matches(metrics map[models.Component][]string) bool {
	if len(s.Indicators) == 0 {
		return false
	}
	for component, fragments := range s.Indicators {
		if !anyContains(metrics[component], fragments) {
			return false
		}
	}
	return true
}

func anyContains(names, fragments []string) bool {
	for _, name := range names {
		for _, fragment := range fragments {
			if strings.Contains(name, fragment) {
				return true
			}
		}
	}
	return false
}

func matchSignatures(metrics map[models.Component][]string) []string {
	var out []string
	for _, sig := range Signatures {
		if sig.Matches(metrics) {
			out = append(out, sig.Name)
		}
	}
	return out
}

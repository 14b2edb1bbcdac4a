package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

// SourcePrometheus tags batches read from a Prometheus-compatible API.
const SourcePrometheus = "prometheus"

var errNoAddress = errors.New("prometheus base URL not configured")

// PrometheusFeed polls an instant query for every catalogued metric.
type PrometheusFeed struct {
	api     v1.API
	initErr error
	timeout time.Duration
	catalog *catalog.Catalog
	clock   clock.Clock
	logger  *slog.Logger
}

// NewPrometheusFeed constructs a feed targeting the given Prometheus base URL.
// An invalid URL is reported by NextBatch.
func NewPrometheusFeed(logger *slog.Logger, baseURL string, timeout time.Duration, cat *catalog.Catalog, clk clock.Clock) *PrometheusFeed {
	return newPrometheusFeed(logger, baseURL, timeout, cat, clk, nil)
}

func newPrometheusFeed(logger *slog.Logger, baseURL string, timeout time.Duration, cat *catalog.Catalog, clk clock.Clock, rt http.RoundTripper) *PrometheusFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	f := &PrometheusFeed{timeout: timeout, catalog: cat, clock: clk, logger: logger}

	if strings.TrimSpace(baseURL) == "" {
		f.initErr = errNoAddress
		return f
	}
	client, err := api.NewClient(api.Config{Address: baseURL, RoundTripper: rt})
	if err != nil {
		f.initErr = fmt.Errorf("create prometheus client: %w", err)
		return f
	}
	f.api = v1.NewAPI(client)
	return f
}

// NextBatch queries current values and folds them into a batch keyed by component.
func (f *PrometheusFeed) NextBatch(ctx context.Context) (models.MetricBatch, error) {
	if f == nil {
		return models.MetricBatch{}, errNoAddress
	}
	if f.initErr != nil {
		return models.MetricBatch{}, f.initErr
	}

	vector, err := f.query(ctx, f.selector())
	if err != nil {
		return models.MetricBatch{}, err
	}

	batch := models.MetricBatch{
		ID:        uuid.NewString(),
		Timestamp: f.clock.Now().UTC(),
		Values:    make(map[models.Component]map[string]float64),
		Source:    SourcePrometheus,
	}
	for _, sample := range vector {
		name := string(sample.Metric[model.MetricNameLabel])
		component, ok := f.catalog.Resolve(name)
		if !ok {
			continue
		}
		value := float64(sample.Value)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		if batch.Values[component] == nil {
			batch.Values[component] = make(map[string]float64)
		}
		if existing, seen := batch.Values[component][name]; seen {
			value = f.worst(component, name, existing, value)
		}
		batch.Values[component][name] = value
	}
	return batch, nil
}

// worst keeps the value furthest into the threshold direction across series.
func (f *PrometheusFeed) worst(component models.Component, name string, a, b float64) float64 {
	def, ok := f.catalog.Lookup(component, name)
	if ok && def.ThresholdDirection() == catalog.DirectionBelow {
		return math.Min(a, b)
	}
	return math.Max(a, b)
}

func (f *PrometheusFeed) selector() string {
	names := f.catalog.Names()
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	return fmt.Sprintf(`{__name__=~"%s"}`, strings.Join(quoted, "|"))
}

func (f *PrometheusFeed) query(ctx context.Context, promql string) (model.Vector, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	value, warnings, err := f.api.Query(ctx, promql, f.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	for _, warning := range warnings {
		f.logger.Warn("prometheus query warning", slog.String("warning", warning))
	}
	vector, ok := value.(model.Vector)
	if !ok {
		if value == nil {
			return nil, errors.New("prometheus returned no result")
		}
		return nil, fmt.Errorf("unexpected result type %q", value.Type())
	}
	return vector, nil
}

package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

const vectorBody = `{
  "status": "success",
  "warnings": ["partial response"],
  "data": {
    "resultType": "vector",
    "result": [
      {"metric": {"__name__": "kafka_consumer_lag", "group": "orders"}, "value": [1709294400, "1200"]},
      {"metric": {"__name__": "kafka_consumer_lag", "group": "payments"}, "value": [1709294400, "52000"]},
      {"metric": {"__name__": "kafka_broker_request_handler_idle_percent", "broker": "1"}, "value": [1709294400, "75"]},
      {"metric": {"__name__": "kafka_broker_request_handler_idle_percent", "broker": "2"}, "value": [1709294400, "12"]},
      {"metric": {"__name__": "flink_jobmanager_job_restarts"}, "value": [1709294400, "2"]},
      {"metric": {"__name__": "node_cpu_seconds_total"}, "value": [1709294400, "9"]},
      {"metric": {"__name__": "flink_jobmanager_checkpoint_duration"}, "value": [1709294400, "NaN"]}
    ]
  }
}`

func newTestFeed(t *testing.T, rt roundTripFunc) (*PrometheusFeed, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	feed := newPrometheusFeed(nil, "http://prometheus:9090/", time.Second, catalog.Default(), clk, rt)
	return feed, clk
}

func TestPrometheusFeedNextBatch(t *testing.T) {
	var (
		path  string
		query string
	)
	feed, clk := newTestFeed(t, func(req *http.Request) (*http.Response, error) {
		path = req.URL.Path
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		query = req.Form.Get("query")
		return jsonResponse(http.StatusOK, vectorBody), nil
	})

	batch, err := feed.NextBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/query", path)
	assert.True(t, strings.HasPrefix(query, `{__name__=~"`))
	assert.Contains(t, query, "kafka_consumer_lag")
	assert.Contains(t, query, "clickhouse_")

	assert.Equal(t, SourcePrometheus, batch.Source)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, clk.Now().UTC(), batch.Timestamp)

	kafka := batch.Values[models.ComponentBroker]
	assert.Equal(t, 52000.0, kafka["kafka_consumer_lag"], "above metrics keep the max")
	assert.Equal(t, 12.0, kafka["kafka_broker_request_handler_idle_percent"], "below metrics keep the min")
	assert.Equal(t, 2.0, batch.Values[models.ComponentStreamProcessor]["flink_jobmanager_job_restarts"])
	assert.NotContains(t, batch.Values[models.ComponentStreamProcessor], "flink_jobmanager_checkpoint_duration")
	for _, values := range batch.Values {
		assert.NotContains(t, values, "node_cpu_seconds_total")
	}
}

func TestPrometheusFeedErrors(t *testing.T) {
	cases := map[string]*http.Response{
		"error status":  jsonResponse(http.StatusBadRequest, `{"status":"error","errorType":"bad_data","error":"parse error"}`),
		"non json":      jsonResponse(http.StatusBadGateway, `upstream down`),
		"matrix result": jsonResponse(http.StatusOK, `{"status":"success","data":{"resultType":"matrix","result":[]}}`),
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			feed, _ := newTestFeed(t, func(*http.Request) (*http.Response, error) { return resp, nil })
			_, err := feed.NextBatch(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestPrometheusFeedRequiresAddress(t *testing.T) {
	feed := NewPrometheusFeed(nil, "", time.Second, nil, nil)
	_, err := feed.NextBatch(context.Background())
	assert.ErrorIs(t, err, errNoAddress)
}

func TestPrometheusFeedTransportError(t *testing.T) {
	feed, _ := newTestFeed(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := feed.NextBatch(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

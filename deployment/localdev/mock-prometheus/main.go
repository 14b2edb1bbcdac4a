// Command mock-prometheus answers instant queries with synthetic streaming
// pipeline metrics so the prometheus source can run without a real cluster.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/prometheus/common/model"

	"github.com/miradorstack/mirador-streamwatch/internal/catalog"
	"github.com/miradorstack/mirador-streamwatch/internal/models"
	"github.com/miradorstack/mirador-streamwatch/internal/synth"
)

type queryResponse struct {
	Status string    `json:"status"`
	Data   queryData `json:"data"`
}

type queryData struct {
	ResultType string       `json:"resultType"`
	Result     model.Vector `json:"result"`
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	probability := flag.Float64("probability", 0.3, "chance that a scrape carries an injected scenario")
	cluster := flag.String("cluster", "localdev", "cluster label attached to every series")
	flag.Parse()

	var mu sync.Mutex
	gen := synth.New(synth.Config{AnomalyProbability: *probability, Cluster: *cluster}, catalog.Default(), nil, clock.New())

	router := mux.NewRouter()
	router.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		batch := gen.GenerateBatch()
		mu.Unlock()

		writeJSON(w, queryResponse{
			Status: "success",
			Data: queryData{
				ResultType: model.ValVector.String(),
				Result:     toVector(batch),
			},
		})
		if batch.Scenario != nil {
			log.Printf("served %s scenario: %s", batch.Scenario.Type, batch.Scenario.Description)
		}
	}).Methods(http.MethodGet, http.MethodPost)

	logger := log.New(log.Writer(), "prometheus-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// toVector renders a batch as one sample per metric, labelled like an exporter would.
func toVector(batch models.MetricBatch) model.Vector {
	ts := model.TimeFromUnixNano(batch.Timestamp.UnixNano())
	var out model.Vector
	for component, values := range batch.Values {
		for name, value := range values {
			out = append(out, &model.Sample{
				Metric: model.Metric{
					model.MetricNameLabel: model.LabelValue(name),
					"component":           model.LabelValue(component),
					"cluster":             model.LabelValue(batch.Cluster),
				},
				Value:     model.SampleValue(value),
				Timestamp: ts,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metric[model.MetricNameLabel] < out[j].Metric[model.MetricNameLabel]
	})
	return out
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

package synth

import "github.com/miradorstack/mirador-streamwatch/internal/models"

// cascadeValues trace a broker outage backing up through the stream processor
// into the columnar store.
var cascadeValues = map[models.Component]map[string]float64{
	models.ComponentBroker: {
		"kafka_broker_under_replicated_partitions":  15,
		"kafka_broker_offline_partitions":           3,
		"kafka_consumer_lag":                        2500000,
		"kafka_consumer_lag_seconds":                1200,
		"kafka_broker_request_handler_idle_percent": 2,
	},
	models.ComponentStreamProcessor: {
		"flink_task_backpressure":                  0.95,
		"flink_jobmanager_job_restarts":            8,
		"flink_task_records_lag":                   5000000,
		"flink_task_throughput":                    50,
		"flink_jobmanager_checkpoint_failure_rate": 45,
	},
	models.ComponentColumnarStore: {
		"clickhouse_insert_latency":        5000,
		"clickhouse_inserts_per_second":    1000,
		"clickhouse_background_pool_tasks": 250,
		"clickhouse_memory_usage":          92,
		"clickhouse_failed_queries":        15,
	},
}

// exhaustionValues push memory, CPU and disk past their critical thresholds
// on every component at once.
var exhaustionValues = map[models.Component]map[string]float64{
	models.ComponentBroker: {
		"kafka_jvm_heap_usage":          91.5,
		"kafka_jvm_gc_pause_time":       1150,
		"kafka_broker_bytes_in_per_sec": 250000000,
	},
	models.ComponentStreamProcessor: {
		"flink_taskmanager_heap_used":      93,
		"flink_taskmanager_cpu_load":       95,
		"flink_jobmanager_checkpoint_size": 15000000000,
	},
	models.ComponentColumnarStore: {
		"clickhouse_memory_usage":   91,
		"clickhouse_disk_usage":     90,
		"clickhouse_memory_tracked": 190,
	},
}

const (
	cascadeDescription    = "Cascading failure across Kafka -> Flink -> ClickHouse"
	exhaustionDescription = "System-wide resource exhaustion"
)

func fixedScenario(kind models.ScenarioType) (map[models.Component]map[string]float64, string) {
	if kind == models.ScenarioResourceExhaustion {
		return exhaustionValues, exhaustionDescription
	}
	return cascadeValues, cascadeDescription
}

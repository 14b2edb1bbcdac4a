package catalog

import (
	"math"

	"github.com/miradorstack/mirador-streamwatch/internal/models"
)

func above(component models.Component, name, description, unit string, min, max, warning, critical float64, conditions ...string) MetricDefinition {
	return MetricDefinition{
		Component:   component,
		Name:        name,
		Description: description,
		Unit:        unit,
		NormalRange: Range{Min: min, Max: max},
		Warning:     Threshold(warning),
		Critical:    Threshold(critical),
		Direction:   DirectionAbove,
		Conditions:  conditions,
	}
}

func below(component models.Component, name, description, unit string, min, max, warning, critical float64, conditions ...string) MetricDefinition {
	def := above(component, name, description, unit, min, max, warning, critical, conditions...)
	def.Direction = DirectionBelow
	return def
}

func builtinDefinitions() []MetricDefinition {
	defs := make([]MetricDefinition, 0, 42)
	defs = append(defs, brokerDefinitions()...)
	defs = append(defs, streamProcessorDefinitions()...)
	defs = append(defs, columnarStoreDefinitions()...)
	return defs
}

const (
	mib = 1 << 20
	gib = 1 << 30
)

func brokerDefinitions() []MetricDefinition {
	k := models.ComponentBroker
	return []MetricDefinition{
		above(k, "kafka_broker_under_replicated_partitions", "Number of under-replicated partitions", "count",
			0, 0, 1, 5, "value > 0 for more than 5 minutes"),
		// Any offline partition is critical.
		above(k, "kafka_broker_offline_partitions", "Number of offline partitions", "count",
			0, 0, 0.5, 1, "value > 0"),
		above(k, "kafka_broker_messages_in_per_sec", "Incoming message rate", "msg/sec",
			1000, 50000, 75000, 100000,
			"sudden drop > 50% from baseline", "value < 100 (unless during maintenance)", "sustained spike > 2x normal peak"),
		above(k, "kafka_broker_bytes_in_per_sec", "Incoming bytes rate", "bytes/sec",
			1*mib, 100*mib, 150*mib, 200*mib, "rate > network capacity", "sudden drop > 70%"),
		above(k, "kafka_broker_bytes_out_per_sec", "Outgoing bytes rate", "bytes/sec",
			1*mib, 200*mib, 300*mib, 400*mib, "rate > 2x input rate for extended period"),
		below(k, "kafka_broker_request_handler_idle_percent", "Request handler thread idle percentage", "%",
			20, 80, 10, 5, "value < 10% indicates overload"),
		below(k, "kafka_broker_network_processor_idle_percent", "Network processor thread idle percentage", "%",
			30, 90, 20, 10, "value < 20% indicates network bottleneck"),
		above(k, "kafka_consumer_lag", "Consumer group lag", "messages",
			0, 10000, 50000, 100000,
			"continuously increasing lag", "lag > 1 million messages", "lag growth rate > 1000 msg/sec"),
		above(k, "kafka_consumer_lag_seconds", "Consumer lag in time", "seconds",
			0, 60, 300, 600, "lag > 10 minutes for real-time processing"),
		above(k, "kafka_partition_leader_election_rate", "Leader election rate", "elections/sec",
			0, 0.1, 0.5, 1, "frequent elections indicate instability"),
		above(k, "kafka_partition_isr_shrink_rate", "In-Sync Replica shrink rate", "shrinks/sec",
			0, 0.01, 0.1, 0.5, "high shrink rate indicates replica issues"),
		above(k, "kafka_jvm_heap_usage", "JVM heap memory usage", "%",
			30, 70, 80, 90, "sustained > 85%", "frequent GC pauses"),
		above(k, "kafka_jvm_gc_pause_time", "Garbage collection pause time", "ms",
			0, 100, 200, 500, "pause > 1 second", "frequent long pauses"),
	}
}

func streamProcessorDefinitions() []MetricDefinition {
	f := models.ComponentStreamProcessor
	return []MetricDefinition{
		below(f, "flink_jobmanager_job_uptime", "Job uptime", "seconds",
			3600, math.Inf(1), 1800, 300, "frequent restarts", "uptime < 5 minutes"),
		above(f, "flink_jobmanager_job_restarts", "Number of job restarts", "count",
			0, 2, 5, 10, "restart loop", "> 3 restarts in 10 minutes"),
		above(f, "flink_jobmanager_checkpoint_duration", "Checkpoint duration", "ms",
			100, 5000, 10000, 30000, "checkpoint timeout", "duration > 1 minute", "increasing trend"),
		above(f, "flink_jobmanager_checkpoint_size", "Checkpoint size", "bytes",
			1*mib, 1*gib, 5*gib, 10*gib, "rapid growth", "size > 10GB"),
		above(f, "flink_jobmanager_checkpoint_failure_rate", "Checkpoint failure rate", "%",
			0, 5, 10, 20, "> 20% failure rate", "consecutive failures"),
		above(f, "flink_taskmanager_heap_used", "Task manager heap usage", "%",
			20, 70, 80, 90, "memory leak pattern", "OOM risk"),
		above(f, "flink_taskmanager_cpu_load", "Task manager CPU load", "%",
			20, 70, 85, 95, "sustained > 90%", "uneven distribution"),
		above(f, "flink_taskmanager_network_io", "Network I/O rate", "MB/s",
			10, 500, 800, 1000, "network saturation", "sudden drops"),
		above(f, "flink_task_backpressure", "Task backpressure", "ratio",
			0, 0.1, 0.5, 0.8, "high backpressure > 0.5", "cascading backpressure", "persistent backpressure"),
		above(f, "flink_task_records_lag", "Records lag", "records",
			0, 10000, 100000, 1000000, "continuously increasing", "lag > capacity"),
		above(f, "flink_task_throughput", "Records processed per second", "records/sec",
			1000, 100000, 150000, 200000, "throughput < 100 records/sec", "sudden drop > 50%", "zero throughput"),
		above(f, "flink_task_latency", "Processing latency", "ms",
			10, 100, 500, 1000, "latency > SLA", "increasing trend"),
		above(f, "flink_watermark_lag", "Watermark lag", "ms",
			0, 1000, 5000, 10000, "watermark stuck", "lag > window size"),
	}
}

func columnarStoreDefinitions() []MetricDefinition {
	c := models.ComponentColumnarStore
	return []MetricDefinition{
		above(c, "clickhouse_query_duration", "Query execution time", "ms",
			1, 1000, 5000, 10000, "query timeout", "duration > 30 seconds", "10x slower than baseline"),
		above(c, "clickhouse_queries_per_second", "Query rate", "queries/sec",
			10, 1000, 2000, 3000, "rate exceeds connection pool", "sudden spike"),
		above(c, "clickhouse_slow_queries", "Number of slow queries", "count/min",
			0, 5, 10, 20, "> 20 slow queries per minute"),
		above(c, "clickhouse_failed_queries", "Failed query rate", "%",
			0, 1, 5, 10, "error rate > 10%", "specific error patterns"),
		above(c, "clickhouse_disk_usage", "Disk space usage", "%",
			20, 70, 80, 90, "rapid growth", "approaching capacity"),
		above(c, "clickhouse_parts_count", "Number of data parts", "count",
			100, 10000, 50000, 100000, "too many parts", "merge throttling"),
		above(c, "clickhouse_merge_time", "Background merge time", "seconds",
			0.1, 10, 30, 60, "merge taking > 1 minute", "merge queue growing"),
		above(c, "clickhouse_replication_lag", "Replication lag in seconds", "seconds",
			0, 5, 30, 60, "lag > 1 minute", "increasing lag"),
		above(c, "clickhouse_replication_queue_size", "Replication queue size", "tasks",
			0, 100, 500, 1000, "queue growing", "stuck tasks"),
		above(c, "clickhouse_memory_usage", "Memory usage", "%",
			20, 60, 80, 90, "OOM killer risk", "memory leak"),
		above(c, "clickhouse_memory_tracked", "Tracked memory by queries", "GB",
			1, 50, 100, 150, "exceeds available RAM", "runaway query"),
		above(c, "clickhouse_connections", "Active connections", "count",
			10, 500, 800, 1000, "connection pool exhaustion", "connection leaks"),
		above(c, "clickhouse_http_connections", "HTTP connections", "count",
			5, 200, 400, 500, "HTTP endpoint overload"),
		above(c, "clickhouse_inserts_per_second", "Insert rate", "rows/sec",
			10000, 1000000, 2000000, 3000000, "insert bottleneck", "batch size issues"),
		above(c, "clickhouse_insert_latency", "Insert latency", "ms",
			10, 100, 500, 1000, "high latency inserts", "blocking inserts"),
		above(c, "clickhouse_background_pool_tasks", "Background pool tasks", "count",
			0, 50, 100, 200, "pool saturation", "stuck tasks"),
	}
}

package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EthereumNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_ethereum_nodes_total",
		Help: "Number of execution nodes in the pool by health",
	}, []string{"type", "status"})

	BlockHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_block_height",
		Help: "Most recent block whose call frames were stored",
	}, []string{"network"})

	HeadDistance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_head_distance",
		Help: "Distance between the next block to trace and the execution node head",
	}, []string{"network"})

	BlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_blocks_processed_total",
		Help: "Total number of blocks traced and stored",
	}, []string{"network"})

	BlockProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_tracer_block_processing_duration_seconds",
		Help:    "Time taken to trace and store a block",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"network"})

	TransactionsTraced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_transactions_traced_total",
		Help: "Total number of transactions whose call frames were reconstructed",
	}, []string{"network", "source", "status"})

	TraceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_tracer_trace_duration_seconds",
		Help:    "Time taken to fetch and replay a transaction trace",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"network"})

	FramesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_frames_emitted_total",
		Help: "Total number of call frames emitted",
	}, []string{"network", "call_type", "result"})

	FramesOrphaned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_frames_orphaned_total",
		Help: "Total number of call frames dropped because they never returned",
	}, []string{"network"})

	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_cache_operations_total",
		Help: "Total trace cache operations",
	}, []string{"network", "operation", "result"})

	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_tasks_enqueued_total",
		Help: "Total number of tasks enqueued",
	}, []string{"network", "queue", "task_type"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_tasks_processed_total",
		Help: "Total number of tasks processed",
	}, []string{"network", "queue", "task_type", "status"})

	TasksErrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_tasks_errored_total",
		Help: "Total number of tasks that encountered errors",
	}, []string{"network", "queue", "task_type", "error_type"})

	TaskProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_tracer_task_processing_duration_seconds",
		Help:    "Time taken to process a task",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"network", "queue", "task_type"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_tracer_rpc_call_duration_seconds",
		Help:    "Duration of RPC calls to Ethereum nodes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"chain_id", "node", "method", "status"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_rpc_calls_total",
		Help: "Total RPC calls made to Ethereum nodes",
	}, []string{"chain_id", "node", "method", "status"})

	ClickHouseOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_tracer_clickhouse_operation_duration_seconds",
		Help:    "Duration of ClickHouse operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"network", "operation", "table", "status"})

	ClickHouseOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_clickhouse_operation_total",
		Help: "Total ClickHouse operations",
	}, []string{"network", "operation", "table", "status"})

	ClickHouseInsertsRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_clickhouse_inserted_rows_total",
		Help: "Total rows inserted into ClickHouse",
	}, []string{"network", "table"})

	ClickHousePoolAcquiredResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_clickhouse_pool_acquired_resources",
		Help: "Number of currently acquired connections in the ClickHouse pool",
	}, []string{"network"})

	ClickHousePoolIdleResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_clickhouse_pool_idle_resources",
		Help: "Number of idle connections in the ClickHouse pool",
	}, []string{"network"})

	ClickHousePoolTotalResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_clickhouse_pool_total_resources",
		Help: "Total number of connections in the ClickHouse pool",
	}, []string{"network"})

	ClickHousePoolMaxResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_clickhouse_pool_max_resources",
		Help: "Maximum number of connections allowed in the ClickHouse pool",
	}, []string{"network"})

	ClickHousePoolEmptyAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_clickhouse_pool_empty_acquire_total",
		Help: "Total acquires that had to wait for a connection",
	}, []string{"network"})

	RowBufferFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_row_buffer_flush_total",
		Help: "Total number of row buffer flushes",
	}, []string{"network", "table", "trigger", "status"})

	RowBufferFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_tracer_row_buffer_flush_duration_seconds",
		Help:    "Duration of row buffer flushes",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"network", "table"})

	RowBufferPendingRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_row_buffer_pending_rows",
		Help: "Rows waiting in the buffer",
	}, []string{"network", "table"})

	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_leader_election_status",
		Help: "Current leader election status (1 = leader, 0 = follower)",
	}, []string{"network", "node_id"})

	LeaderElectionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_leader_election_transitions_total",
		Help: "Total number of leader election transitions",
	}, []string{"network", "node_id", "transition"})

	LeaderElectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_leader_election_errors_total",
		Help: "Total number of errors during leader election",
	}, []string{"network", "node_id", "operation"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_queue_depth",
		Help: "Number of tasks waiting in a processor queue",
	}, []string{"network", "processor", "queue"})

	QueueArchivedItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_tracer_queue_archived_items",
		Help: "Number of archived (dead) tasks in a processor queue",
	}, []string{"network", "processor", "queue"})

	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_scheduler_runs_total",
		Help: "Scheduler ticks by outcome",
	}, []string{"network", "status"})

	BlocksScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_tracer_blocks_scheduled_total",
		Help: "Blocks enqueued by the scheduler",
	}, []string{"network", "processor"})
)

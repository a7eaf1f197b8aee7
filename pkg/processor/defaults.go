package processor

import "time"

// Fallbacks for configs built without struct tag defaults.
const (
	// DefaultConcurrency is the default number of concurrent workers for task processing.
	DefaultConcurrency = 10

	// DefaultSchedulerInterval is the default time between scheduling runs.
	DefaultSchedulerInterval = 12 * time.Second

	// DefaultMaxBlocksPerTick is the default number of blocks enqueued per run.
	DefaultMaxBlocksPerTick = 10

	// DefaultQueueMonitorInterval is the default interval for queue depth metrics.
	DefaultQueueMonitorInterval = 30 * time.Second

	// DefaultLeaderStopTimeout bounds releasing the leader lock on shutdown.
	DefaultLeaderStopTimeout = 5 * time.Second
)

package processor

import (
	"fmt"
	"time"

	"github.com/ethpandaops/call-tracer/pkg/leaderelection"
	"github.com/ethpandaops/call-tracer/pkg/processor/transaction/call_trace"
)

// Config holds the unified processor configuration.
type Config struct {
	// Concurrency is the number of asynq workers running block tasks.
	Concurrency int `yaml:"concurrency" default:"10"`

	// Leader election configuration
	LeaderElection leaderelection.Config `yaml:"leaderElection"`

	// Scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Processor configurations
	CallTrace call_trace.Config `yaml:"callTrace"`
}

// SchedulerConfig controls how the leader feeds blocks into the task queue.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`

	// Interval between scheduling runs (default: 12s, one slot)
	Interval time.Duration `yaml:"interval" default:"12s"`

	// MaxBlocksPerTick caps how many blocks a single run enqueues
	MaxBlocksPerTick int `yaml:"maxBlocksPerTick" default:"10"`

	// MaxQueueSize pauses scheduling while a process queue holds more tasks (0 disables)
	MaxQueueSize int `yaml:"maxQueueSize" default:"1000"`

	// QueueMonitorInterval is how often queue depth metrics are refreshed
	QueueMonitorInterval time.Duration `yaml:"queueMonitorInterval" default:"30s"`
}

func (c *Config) Validate() error {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	if err := c.LeaderElection.Validate(); err != nil {
		return fmt.Errorf("leader election config validation failed: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config validation failed: %w", err)
	}

	if err := c.CallTrace.Validate(); err != nil {
		return fmt.Errorf("call trace config validation failed: %w", err)
	}

	return nil
}

func (c *SchedulerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Interval == 0 {
		c.Interval = DefaultSchedulerInterval
	}

	if c.MaxBlocksPerTick == 0 {
		c.MaxBlocksPerTick = DefaultMaxBlocksPerTick
	}

	if c.QueueMonitorInterval == 0 {
		c.QueueMonitorInterval = DefaultQueueMonitorInterval
	}

	if c.Interval < 0 || c.MaxBlocksPerTick < 0 || c.MaxQueueSize < 0 || c.QueueMonitorInterval < 0 {
		return fmt.Errorf("scheduler settings must not be negative")
	}

	return nil
}

package call_trace

import (
	"fmt"
	"time"

	"github.com/ethpandaops/call-tracer/pkg/clickhouse"
)

// Config holds configuration for the call trace processor.
type Config struct {
	clickhouse.Config `yaml:",inline"`
	// Enabled turns on block processing into ClickHouse. Single transaction
	// traces are served either way.
	Enabled bool   `yaml:"enabled"`
	Table   string `yaml:"table" default:"call_trace_frame"`
	// Concurrency bounds how many transactions of a block are traced at once.
	Concurrency int `yaml:"concurrency" default:"8"`
	// UniqueTTL suppresses duplicate block tasks while one is queued.
	UniqueTTL time.Duration `yaml:"uniqueTTL" default:"1h"`
	// Row buffer settings for batched inserts.
	BufferMaxRows       int           `yaml:"bufferMaxRows" default:"50000"`
	BufferFlushInterval time.Duration `yaml:"bufferFlushInterval" default:"1s"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("call trace concurrency must be positive")
	}

	if !c.Enabled {
		return nil
	}

	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("clickhouse config validation failed: %w", err)
	}

	if c.Table == "" {
		return fmt.Errorf("call trace table is required when enabled")
	}

	return nil
}
